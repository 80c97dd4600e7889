package model

import "strings"

// DifficultyLevel 测验难度等级
type DifficultyLevel string

const (
	DifficultyAdvanced     DifficultyLevel = "advanced"
	DifficultyIntermediate DifficultyLevel = "intermediate"
	DifficultyStandard     DifficultyLevel = "standard"
	DifficultyMedium       DifficultyLevel = "medium"
	DifficultyNormal       DifficultyLevel = "normal"
)

// difficultyLadder 从难到易排列，下标 0 最难
var difficultyLadder = [...]DifficultyLevel{
	DifficultyAdvanced,
	DifficultyIntermediate,
	DifficultyStandard,
	DifficultyMedium,
	DifficultyNormal,
}

// Levels 返回完整的难度阶梯（从难到易）
func Levels() []DifficultyLevel {
	out := make([]DifficultyLevel, len(difficultyLadder))
	copy(out, difficultyLadder[:])
	return out
}

// ParseDifficulty 解析难度字符串，大小写不敏感
func ParseDifficulty(s string) (DifficultyLevel, bool) {
	level := DifficultyLevel(strings.ToLower(strings.TrimSpace(s)))
	return level, level.Valid()
}

func (d DifficultyLevel) Valid() bool {
	return d.index() >= 0
}

// Rank 返回难度在阶梯中的位置，0 为最难；非法值返回 -1
func (d DifficultyLevel) Rank() int {
	return d.index()
}

func (d DifficultyLevel) index() int {
	for i, l := range difficultyLadder {
		if l == d {
			return i
		}
	}
	return -1
}

// Harder 返回更难一级，已是最难时保持不变
func Harder(d DifficultyLevel) DifficultyLevel {
	i := d.index()
	if i <= 0 {
		return d
	}
	return difficultyLadder[i-1]
}

// Easier 返回更简单一级，已是最简单时保持不变
func Easier(d DifficultyLevel) DifficultyLevel {
	i := d.index()
	if i < 0 || i == len(difficultyLadder)-1 {
		return d
	}
	return difficultyLadder[i+1]
}
