// Package timeout defines centralized timeout and interval constants for the chat pipeline.
// Package timeout 定义对话流程的集中式超时与间隔常量。
package timeout

import "time"

// Chat pipeline timeout constants.
// 对话流程超时常量。
const (
	// GenerationTimeout bounds a single call into the generation backend.
	// GenerationTimeout 是单次调用生成后端的超时时间。
	GenerationTimeout = 60 * time.Second

	// MediaFetchTimeout bounds downloading an attached media file.
	// MediaFetchTimeout 是下载媒体附件的超时时间。
	MediaFetchTimeout = 15 * time.Second

	// ListenerTimeout bounds a single event listener invocation.
	// ListenerTimeout 是单个事件监听器执行的超时时间。
	ListenerTimeout = 5 * time.Second

	// SessionIdleTimeout is how long a session may stay idle before it expires.
	// SessionIdleTimeout 是会话闲置多久后过期。
	SessionIdleTimeout = time.Hour

	// CleanupInterval is the interval between idle-session sweeps.
	// CleanupInterval 是闲置会话清理的间隔。
	CleanupInterval = 5 * time.Minute

	// MemoryMaxAge is how long an unimportant memory item is kept.
	// MemoryMaxAge 是非重要记忆的保留时长。
	MemoryMaxAge = 30 * 24 * time.Hour

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	// ShutdownTimeout 是 HTTP 服务优雅关闭的超时时间。
	ShutdownTimeout = 10 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)
