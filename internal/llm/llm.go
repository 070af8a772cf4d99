package llm

import "context"

// Tier 粗略刻画当前大模型后端的能力档位，用于选择步数预算。
type Tier string

const (
	// TierLocal 表示本地小模型（如 Ollama 托管的 7B 级别模型）。
	TierLocal Tier = "local"
	// TierHosted 表示托管的大模型服务。
	TierHosted Tier = "hosted"
)

// ParseTier 解析配置中的能力档位，未知取值按本地小模型处理。
func ParseTier(raw string) Tier {
	if raw == string(TierHosted) {
		return TierHosted
	}
	return TierLocal
}

// Exchange 描述一轮历史对话，用于为大模型提供上下文记忆。
type Exchange struct {
	User      string
	Assistant string
}

// Request 描述发送给大模型的一次补全请求。
type Request struct {
	System  string
	Prompt  string
	History []Exchange
}

// Response 是大模型推理得到的输出文本。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
