// Package repetition 检测转写结果中的重复片段。
// Whisper 在静音或低质量音频上容易反复输出同一句话,
// 通过 SimHash 指纹比较相邻片段可以识别并折叠这类幻觉输出。
package repetition

import (
	"strings"

	"github.com/go-dedup/simhash"
)

// SIMHASH_THRESHOLD 定义相似度阈值：汉明距离<=10视为重复片段。
// 转写片段比短标题长, 重复幻觉近乎逐字相同, 阈值取得比通用文本检索更紧。
const SIMHASH_THRESHOLD = 10

// SegmentFeatureSet 实现 simhash.FeatureSet 接口，用于转写片段的特征提取
type SegmentFeatureSet struct {
	text string
}

// GetFeatures 提取文本特征
// 使用字符级bigram特征，中英文片段都适用
func (s SegmentFeatureSet) GetFeatures() []simhash.Feature {
	text := strings.TrimSpace(s.text)
	if text == "" {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0)
	runes := []rune(text)

	// 使用字符级bigram特征（滑动窗口大小=2）
	for i := 0; i < len(runes)-1; i++ {
		// 跳过标点符号
		r1, r2 := runes[i], runes[i+1]
		if isPunctuation(r1) || isPunctuation(r2) {
			continue
		}
		bigram := string([]rune{r1, r2})
		features = append(features, simhash.NewFeature([]byte(bigram)))
	}

	// 如果文本很短（<4个字符），添加单字符特征增强区分度
	if len(runes) < 4 {
		for _, r := range runes {
			if !isPunctuation(r) {
				features = append(features, simhash.NewFeature([]byte(string(r))))
			}
		}
	}

	return features
}

// isPunctuation 判断是否为标点符号
func isPunctuation(r rune) bool {
	return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' ||
		r == '：' || r == '、' || r == '。' || r == '，' || r == '；' ||
		r == '！' || r == '？' || r == '-' || r == '_' || r == '/' ||
		r == '（' || r == '）' || r == '(' || r == ')' || r == '\t' || r == '\n'
}

// Fingerprint 计算片段文本的 SimHash 指纹
// 参数:
//   - text: 片段文本
//
// 返回:
//   - uint64: 64位SimHash指纹值
func Fingerprint(text string) uint64 {
	sh := simhash.NewSimhash()
	featureSet := SegmentFeatureSet{text: text}
	return sh.GetSimhash(featureSet)
}

// HammingDistance 计算两个 SimHash 指纹的汉明距离
// 汉明距离表示两个64位数字中不同位的数量
// 参数:
//   - hash1: 第一个SimHash指纹
//   - hash2: 第二个SimHash指纹
//
// 返回:
//   - int: 汉明距离（0-64）
func HammingDistance(hash1, hash2 uint64) int {
	// XOR 操作：相同位为0，不同位为1
	x := hash1 ^ hash2
	count := 0

	// 计算1的个数（Brian Kernighan算法）
	for x != 0 {
		count++
		x &= x - 1 // 清除最右边的1
	}

	return count
}

// Similar 判断两个片段文本是否重复
// 参数:
//   - text1: 第一个片段
//   - text2: 第二个片段
//
// 返回:
//   - bool: 是否重复（汉明距离 <= SIMHASH_THRESHOLD）
func Similar(text1, text2 string) bool {
	hash1 := Fingerprint(text1)
	hash2 := Fingerprint(text2)
	return HammingDistance(hash1, hash2) <= SIMHASH_THRESHOLD
}

// LongestRun 返回相邻相似片段构成的最长连续重复长度
// 空白片段视为静音, 会打断重复链
// 参数:
//   - texts: 按时间顺序排列的片段文本
//
// 返回:
//   - int: 最长重复长度（空输入返回0, 无重复返回1）
func LongestRun(texts []string) int {
	if len(texts) == 0 {
		return 0
	}

	longest, run := 1, 1
	prev := Fingerprint(texts[0])
	prevEmpty := strings.TrimSpace(texts[0]) == ""

	for _, text := range texts[1:] {
		h := Fingerprint(text)
		empty := strings.TrimSpace(text) == ""
		if !empty && !prevEmpty && HammingDistance(prev, h) <= SIMHASH_THRESHOLD {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = h
		prevEmpty = empty
	}

	return longest
}

// CollapseRuns 把长度达到 minRun 的连续重复片段折叠为首个片段
// 低于 minRun 的重复保留原样, 避免误删正常的口头重复
// 参数:
//   - texts: 按时间顺序排列的片段文本
//   - minRun: 触发折叠的最小重复长度（<2时按2处理）
//
// 返回:
//   - []string: 折叠后的片段文本
func CollapseRuns(texts []string, minRun int) []string {
	if minRun < 2 {
		minRun = 2
	}

	out := make([]string, 0, len(texts))
	i := 0
	for i < len(texts) {
		j := i + 1
		if strings.TrimSpace(texts[i]) != "" {
			// 与链条上最近一个片段比较, 容忍重复内容的缓慢漂移
			base := Fingerprint(texts[i])
			for j < len(texts) {
				if strings.TrimSpace(texts[j]) == "" {
					break
				}
				h := Fingerprint(texts[j])
				if HammingDistance(base, h) > SIMHASH_THRESHOLD {
					break
				}
				base = h
				j++
			}
		}
		if j-i >= minRun {
			out = append(out, texts[i])
		} else {
			out = append(out, texts[i:j]...)
		}
		i = j
	}

	return out
}
