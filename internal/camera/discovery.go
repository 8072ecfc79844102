package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var deviceNumberPattern = regexp.MustCompile(`video(\d+)$`)

// devicePattern はスキャン対象のパターン（テストで差し替える）
var devicePattern = "/dev/video*"

// ScanDevices はシステム内のV4L2デバイスを番号順に返す
func ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(devicePattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	devices := make([]string, 0, len(matches))
	for _, match := range matches {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if isDeviceAvailable(match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// isDeviceAvailable はデバイスファイルを読み取り可能かチェックする
func isDeviceAvailable(device string) bool {
	if !deviceNumberPattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
