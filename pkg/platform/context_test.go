package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildVideoContext(t *testing.T) {
	v := &Video{Title: "深夜日记", Author: "up1", Description: "今天也要加油"}
	comments := []Comment{
		{Content: "抱抱"},
		{Content: MarkContent("我是机器人")},
		{Content: "我也emo了"},
	}

	ctx := BuildVideoContext(v, "", comments)
	assert.Contains(t, ctx, "深夜日记")
	assert.Contains(t, ctx, "up1")
	assert.Contains(t, ctx, "今天也要加油")
	assert.Contains(t, ctx, "抱抱")
	assert.Contains(t, ctx, "我也emo了")
	// Own marked comments never appear as ambiance.
	assert.NotContains(t, ctx, "我是机器人")
	// No summary section when there is nothing to summarize.
	assert.NotContains(t, ctx, "视频内容摘要")
}

func TestBuildVideoContextIncludesSummary(t *testing.T) {
	v := &Video{Title: "深夜日记", Author: "up1"}
	ctx := BuildVideoContext(v, "一个关于失眠的深夜独白", nil)
	assert.Contains(t, ctx, "视频内容摘要:\n一个关于失眠的深夜独白")
}

func TestBuildVideoContextTruncates(t *testing.T) {
	long := strings.Repeat("长", 300)
	ctx := BuildVideoContext(&Video{Title: "t", Author: "a", Description: long}, "", nil)
	assert.Less(t, strings.Count(ctx, "长"), 250)
	assert.Contains(t, ctx, "…")
}
