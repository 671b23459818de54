package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics 指标收集器
type Metrics struct {
	// 入站消息
	MessagesReceived  uint64
	MessagesDuplicate uint64
	MessagesDropped   uint64

	// 回答
	AnswersTotal  uint64
	AnswersFailed uint64
	SendFailures  uint64

	// 任务队列
	JobsEnqueued  uint64
	JobsCompleted uint64
	JobsFailed    uint64
	JobsTimedOut  uint64

	// 会话
	SessionsCreated uint64
	ActiveSessions  int64

	// 回答延迟 (纳秒)
	AnswerLatencySum   uint64
	AnswerLatencyCount uint64

	// 模型调用
	ModelCallsTotal uint64
	ModelTokensUsed uint64

	// 应答队列深度
	QueueDepth int64

	// 事件总线丢弃数
	EventsDropped int64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	// 历史数据
	history      []MetricsSnapshot
	historyLimit int
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	MessagesPerSecond float64   `json:"messages_per_second"`
	AvgAnswerMs       float64   `json:"avg_answer_ms"`
	QueueDepth        int64     `json:"queue_depth"`
	ActiveSessions    int64     `json:"active_sessions"`
	MemoryMB          float64   `json:"memory_mb"`
	Goroutines        int       `json:"goroutines"`
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger:       logger,
		history:      make([]MetricsSnapshot, 0, 100),
		historyLimit: 100,
	}
}

// 计数方法
func (m *Monitor) IncMessageReceived()  { atomic.AddUint64(&m.metrics.MessagesReceived, 1) }
func (m *Monitor) IncMessageDuplicate() { atomic.AddUint64(&m.metrics.MessagesDuplicate, 1) }
func (m *Monitor) IncMessageDropped()   { atomic.AddUint64(&m.metrics.MessagesDropped, 1) }
func (m *Monitor) IncAnswer()           { atomic.AddUint64(&m.metrics.AnswersTotal, 1) }
func (m *Monitor) IncAnswerFailed()     { atomic.AddUint64(&m.metrics.AnswersFailed, 1) }
func (m *Monitor) IncSendFailure()      { atomic.AddUint64(&m.metrics.SendFailures, 1) }
func (m *Monitor) IncJobEnqueued()      { atomic.AddUint64(&m.metrics.JobsEnqueued, 1) }
func (m *Monitor) IncJobCompleted()     { atomic.AddUint64(&m.metrics.JobsCompleted, 1) }
func (m *Monitor) IncJobFailed()        { atomic.AddUint64(&m.metrics.JobsFailed, 1) }
func (m *Monitor) IncJobTimedOut()      { atomic.AddUint64(&m.metrics.JobsTimedOut, 1) }
func (m *Monitor) IncSessionCreated()   { atomic.AddUint64(&m.metrics.SessionsCreated, 1) }
func (m *Monitor) IncModelCall()        { atomic.AddUint64(&m.metrics.ModelCallsTotal, 1) }

func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.ModelTokensUsed, uint64(n))
	}
}

func (m *Monitor) SetActiveSessions(n int64) {
	atomic.StoreInt64(&m.metrics.ActiveSessions, n)
}

func (m *Monitor) SetQueueDepth(n int64) {
	atomic.StoreInt64(&m.metrics.QueueDepth, n)
}

func (m *Monitor) SetEventsDropped(n int64) {
	atomic.StoreInt64(&m.metrics.EventsDropped, n)
}

func (m *Monitor) RecordAnswerLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.AnswerLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.AnswerLatencyCount, 1)
}

func (m *Monitor) avgAnswerMs() float64 {
	if count := atomic.LoadUint64(&m.metrics.AnswerLatencyCount); count > 0 {
		return float64(atomic.LoadUint64(&m.metrics.AnswerLatencySum)) / float64(count) / 1e6
	}
	return 0
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	received := atomic.LoadUint64(&m.metrics.MessagesReceived)

	return map[string]interface{}{
		"uptime_seconds":     uptime.Seconds(),
		"messages_received":  received,
		"messages_duplicate": atomic.LoadUint64(&m.metrics.MessagesDuplicate),
		"messages_dropped":   atomic.LoadUint64(&m.metrics.MessagesDropped),
		"answers_total":      atomic.LoadUint64(&m.metrics.AnswersTotal),
		"answers_failed":     atomic.LoadUint64(&m.metrics.AnswersFailed),
		"send_failures":      atomic.LoadUint64(&m.metrics.SendFailures),
		"jobs_enqueued":      atomic.LoadUint64(&m.metrics.JobsEnqueued),
		"jobs_completed":     atomic.LoadUint64(&m.metrics.JobsCompleted),
		"jobs_failed":        atomic.LoadUint64(&m.metrics.JobsFailed),
		"jobs_timed_out":     atomic.LoadUint64(&m.metrics.JobsTimedOut),
		"sessions_created":   atomic.LoadUint64(&m.metrics.SessionsCreated),
		"active_sessions":    atomic.LoadInt64(&m.metrics.ActiveSessions),
		"model_calls_total":  atomic.LoadUint64(&m.metrics.ModelCallsTotal),
		"model_tokens_used":  atomic.LoadUint64(&m.metrics.ModelTokensUsed),
		"queue_depth":        atomic.LoadInt64(&m.metrics.QueueDepth),
		"events_dropped":     atomic.LoadInt64(&m.metrics.EventsDropped),
		"avg_answer_ms":      m.avgAnswerMs(),
		"memory_mb":          float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":         runtime.NumGoroutine(),
	}
}

// Snapshot 创建快照并保存
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	received := atomic.LoadUint64(&m.metrics.MessagesReceived)

	snapshot := MetricsSnapshot{
		Timestamp:         time.Now(),
		MessagesPerSecond: float64(received) / uptime,
		AvgAnswerMs:       m.avgAnswerMs(),
		QueueDepth:        atomic.LoadInt64(&m.metrics.QueueDepth),
		ActiveSessions:    atomic.LoadInt64(&m.metrics.ActiveSessions),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// GetHistory 获取历史快照
func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector 启动定期收集，collect 在每次快照前刷新外部仪表
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration, collect func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if collect != nil {
				collect()
			}
			m.Snapshot()
		}
	}
}

// DashboardData 仪表盘数据
type DashboardData struct {
	Stats   map[string]interface{} `json:"stats"`
	History []MetricsSnapshot      `json:"history"`
}

// GetDashboardData 获取仪表盘数据
func (m *Monitor) GetDashboardData() *DashboardData {
	return &DashboardData{
		Stats:   m.GetStats(),
		History: m.GetHistory(),
	}
}
