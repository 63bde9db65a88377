package utils

import (
	"os"
	"path/filepath"
)

// GetCacheDir 默认的本地数据目录，导出与本地库文件都放在这里
func GetCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}

	appDir := filepath.Join(base, "etf2db")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", err
	}

	return appDir, nil
}
