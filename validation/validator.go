// Package validation 提供配置与输入的字段校验，失败时返回 VALIDATION_ERROR 错误
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"docflow/errors"
)

// 集合名只允许小写字母、数字和连字符，保证可以直接拼入 URL 路径与消息主题
var collectionRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateStringLength 验证字符串长度，max <= 0 表示不限制
func ValidateStringLength(value, fieldName string, min, max int) error {
	length := len(value)
	if length < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s长度不能少于%d个字符（当前%d）", fieldName, min, length))
	}
	if max > 0 && length > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s长度不能超过%d个字符（当前%d）", fieldName, max, length))
	}
	return nil
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateIntRange 验证整数范围
func ValidateIntRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能小于%d（当前%d）", fieldName, min, value))
	}
	if value > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能大于%d（当前%d）", fieldName, max, value))
	}
	return nil
}

// ValidatePositive 验证正数
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s必须为正数（当前%d）", fieldName, value))
	}
	return nil
}

// ValidateDurationRange 验证时长范围
func ValidateDurationRange(value time.Duration, fieldName string, min, max time.Duration) error {
	if value < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能小于%s（当前%s）", fieldName, min, value))
	}
	if value > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能大于%s（当前%s）", fieldName, max, value))
	}
	return nil
}

// ValidateURL 验证绝对 URL，schemes 为空时接受任意协议
func ValidateURL(value, fieldName string, schemes ...string) error {
	if err := ValidateRequired(value, fieldName); err != nil {
		return err
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不是有效的URL: %s", fieldName, value))
	}
	if len(schemes) > 0 {
		return ValidateEnum(u.Scheme, fieldName+"协议", schemes)
	}
	return nil
}

// ValidateCollection 验证资源集合名
func ValidateCollection(name string) error {
	if err := ValidateRequired(name, "集合名"); err != nil {
		return err
	}
	if !collectionRegex.MatchString(name) {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("集合名只能包含小写字母、数字和连字符: %s", name))
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("%s的值无效，必须是以下之一: %v", fieldName, validValues))
}
