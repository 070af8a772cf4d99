package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	apperrors "ToolPilot/internal/errors"
)

// Snippet 是一条可注入提示词的背景知识。
type Snippet struct {
	Topic   string   `json:"topic"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// Contact 是一条联系人记录，供邮件与日历动作做姓名到地址的解析。
type Contact struct {
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Aliases []string `json:"aliases,omitempty"`
}

// Provider 定义知识查询能力。
type Provider interface {
	Query(topic string, limit int) []Snippet
	LookupContact(name string) (Contact, error)
}

// StaticProvider 基于启动时加载的 JSON 文件提供只读知识。
// 数据量小且不热更新，全部驻留内存，查询无锁。
type StaticProvider struct {
	snippets []Snippet
	contacts []Contact
}

type staticFile struct {
	Snippets []Snippet `json:"snippets"`
	Contacts []Contact `json:"contacts"`
}

// NewStaticProvider 加载指定 JSON 文件。路径为空时返回空知识库。
func NewStaticProvider(path string) (*StaticProvider, error) {
	provider := &StaticProvider{}
	if path == "" {
		return provider, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var decoded staticFile
	if err := json.Unmarshal(content, &decoded); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	provider.snippets = decoded.Snippets
	provider.contacts = decoded.Contacts
	return provider, nil
}

// NewFromEntries 直接用内存数据构建知识库，主要服务于测试。
func NewFromEntries(snippets []Snippet, contacts []Contact) *StaticProvider {
	return &StaticProvider{snippets: snippets, contacts: contacts}
}

// Query 按主题做大小写不敏感的子串匹配，按匹配强度排序后截断。
func (p *StaticProvider) Query(topic string, limit int) []Snippet {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" || len(p.snippets) == 0 {
		return nil
	}

	type scored struct {
		snippet Snippet
		score   int
	}
	var matches []scored
	for _, snippet := range p.snippets {
		score := matchScore(snippet, topic)
		if score > 0 {
			matches = append(matches, scored{snippet: snippet, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	result := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.snippet)
	}
	return result
}

// matchScore 给出匹配强度：主题命中权重高于标签，标签高于正文。
func matchScore(snippet Snippet, topic string) int {
	score := 0
	if strings.Contains(strings.ToLower(snippet.Topic), topic) {
		score += 4
	}
	for _, tag := range snippet.Tags {
		if strings.Contains(strings.ToLower(tag), topic) {
			score += 2
			break
		}
	}
	if strings.Contains(strings.ToLower(snippet.Content), topic) {
		score++
	}
	return score
}

// LookupContact 按姓名或别名解析联系人，精确匹配优先于前缀匹配。
func (p *StaticProvider) LookupContact(name string) (Contact, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Contact{}, apperrors.New(apperrors.CodeInvalidArgument, "联系人姓名为空")
	}

	var prefixHit *Contact
	for i := range p.contacts {
		contact := p.contacts[i]
		for _, candidate := range append([]string{contact.Name}, contact.Aliases...) {
			lowered := strings.ToLower(candidate)
			if lowered == name {
				return contact, nil
			}
			if prefixHit == nil && strings.HasPrefix(lowered, name) {
				prefixHit = &contact
			}
		}
	}
	if prefixHit != nil {
		return *prefixHit, nil
	}

	return Contact{}, apperrors.New(apperrors.CodeNotFound,
		fmt.Sprintf("未找到联系人 %q", name))
}
