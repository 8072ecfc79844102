package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Opener は設定からソースを作成する関数の型
type Opener func(ctx context.Context, cfg Config) (Source, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register はドライバーを登録する。同名の登録は上書きされる
func Register(driver string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[driver] = opener
}

// Drivers は登録済みのドライバー名を返す
func Drivers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()

	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open は設定されたドライバーでソースを開く
func Open(ctx context.Context, cfg Config) (Source, error) {
	openersMu.RLock()
	opener, exists := openers[cfg.Driver]
	openersMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s", cfg.Driver)
	}

	if cfg.BufferCount < 1 {
		cfg.BufferCount = 1
	}

	src, err := opener(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s ドライバーの初期化に失敗: %w", cfg.Driver, err)
	}
	return src, nil
}

// resolveDevice は "auto" 指定のデバイスを検出済みデバイスに置き換える
func resolveDevice(ctx context.Context, device string) (string, error) {
	if device != "" && device != DeviceAuto {
		return device, nil
	}

	devices, err := ScanDevices(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("カメラデバイスが見つかりません")
	}
	return devices[0], nil
}
