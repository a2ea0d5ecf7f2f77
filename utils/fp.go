package utils

import "strconv"

func EmptyOrElse(s string, defaultValue string) string {
	if s == "" {
		return defaultValue
	}
	return s
}

func Ternary[T any](condition bool, trueValue, falseValue T) T {
	if condition {
		return trueValue
	} else {
		return falseValue
	}
}

func MustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(err)
	}
	return n
}
