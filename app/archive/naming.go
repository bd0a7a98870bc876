package archive

import (
	"strconv"
	"strings"

	"image-press/app/model"

	"golang.org/x/text/unicode/norm"
)

const defaultStem = "image"

// Stem 去掉最后一个扩展名。没有点或以点开头（如 ".hidden"）时原样保留。
func Stem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// EntryName 生成压缩包内的条目名：原文件名去掉扩展名后接上目标格式的扩展名
func EntryName(name string, format model.Format) string {
	stem := sanitize(Stem(baseName(name)))
	if strings.TrimSpace(stem) == "" {
		stem = defaultStem
	}
	return stem + "." + format.Extension()
}

// baseName 只保留路径最后一段，兼容两种分隔符
func baseName(name string) string {
	name = strings.TrimRight(name, `/\`)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func sanitize(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// uniqueName 名称冲突时追加 -1、-2 ... 后缀
func uniqueName(name string, taken map[string]struct{}) string {
	if _, ok := taken[name]; !ok {
		return name
	}

	stem, ext := Stem(name), ""
	if len(stem) < len(name) {
		ext = name[len(stem):]
	}
	for i := 1; ; i++ {
		candidate := stem + "-" + strconv.Itoa(i) + ext
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
