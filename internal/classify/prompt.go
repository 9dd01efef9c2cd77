package classify

import (
	"fmt"
	"strings"
)

// systemPrompt frames the classification task. The model must answer
// with a bare JSON object; the parser still tolerates wrapped prose.
const systemPrompt = `你是医院舆情分析助手。判断给定的网络报道是否为针对该医院的负面舆情，并评估严重程度。

严重程度评级标准：
- low：一般性抱怨、轻微服务问题、无明确事实指控
- medium：明确的服务纠纷、收费争议、有一定传播度的投诉
- high：医疗事故、隐私泄露、重大安全事件、大范围传播的恶性事件

只输出一个 JSON 对象，不要输出其它内容，格式：
{"is_negative": true或false, "severity": "low"或"medium"或"high", "reason": "判定理由", "title": "报道标题", "confidence": 0到1之间的数值}`

// classifyPrompt fills the fixed user-message template for one article.
func classifyPrompt(hospital, source, title, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "医院：%s\n", hospital)
	fmt.Fprintf(&b, "来源平台：%s\n", source)
	fmt.Fprintf(&b, "报道标题：%s\n", title)
	fmt.Fprintf(&b, "报道内容：\n%s\n", body)
	return b.String()
}

// summarySystemPrompt backs the dashboard's global briefing endpoint.
const summarySystemPrompt = `你是医院舆情分析助手。根据给定的舆情列表生成一份简明的总体态势简报：
总结主要风险点、涉及的医院、严重程度分布和建议的关注方向。用中文输出，不超过500字。`

// SummaryMessages builds the chat messages for a global briefing over
// the supplied opinion digest.
func SummaryMessages(digest string) []Message {
	return []Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: digest},
	}
}

// insightSystemPrompt backs the per-item deep analysis endpoint.
const insightSystemPrompt = `你是医院舆情分析助手。针对给定的单条舆情做深入分析：
事件性质、潜在影响、扩散风险、建议的应对措施。用中文输出，不超过400字。`

// InsightMessages builds the chat messages for a per-item deep
// analysis.
func InsightMessages(hospital, title, content, reason string) []Message {
	return []Message{
		{Role: "system", Content: insightSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"医院：%s\n标题：%s\n判定理由：%s\n内容：\n%s", hospital, title, reason, content)},
	}
}
