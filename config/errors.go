package config

import (
	"errors"
	"strings"
)

// ConfigurationError 配置缺失或非法，启动阶段即为致命错误
type ConfigurationError struct {
	Problems []string // 具体问题列表
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.Join(e.Problems, "; ")
}

// IsConfigurationError 判断错误是否为配置错误
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
