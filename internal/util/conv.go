package util

import (
	"fmt"
	"strconv"
)

// ParseWeek 解析路径中的周序号，必须为正整数
func ParseWeek(s string) (int, error) {
	week, err := strconv.Atoi(s)
	if err != nil || week <= 0 {
		return 0, fmt.Errorf("%w: week must be a positive integer", ErrValidation)
	}
	return week, nil
}
