package kernel

import "fmt"

// Root expressions, evaluated against the ch system instance.
const (
	currentThreadExpr = "(uint32_t)ch.rlist.current"
	registryExpr      = "(uint32_t)&ch.rlist"
	timerListExpr     = "(uint32_t)&ch.vtlist"

	traceSizeExpr    = "(uint32_t)ch.trace_buffer.size"
	traceRecSizeExpr = "(uint32_t)sizeof (trace_event_t)"
	traceStartExpr   = "(uint32_t)ch.trace_buffer.buffer"
	tracePtrExpr     = "(uint32_t)ch.trace_buffer.ptr"

	vtDeltaExpr    = "(uint32_t)ch.vtlist.delta"
	vtSystimeExpr  = "(uint32_t)ch.vtlist.systime"
	vtLasttimeExpr = "(uint32_t)ch.vtlist.lasttime"
	preemptExpr    = "(uint32_t)ch.rlist.preempt"
	panicMsgExpr   = "(uint32_t)ch.dbg.panic_msg"
	isrCntExpr     = "(uint32_t)ch.dbg.isr_cnt"
	lockCntExpr    = "(uint32_t)ch.dbg.lock_cnt"

	statsExpr = "(uint32_t)&ch.kernel_stats"
)

// Stack fill pattern written by the port layer into thread working areas.
const stackFillByte = 0x55

const (
	threadNameMaxLen = 16
	isrNameMaxLen    = 16
	haltReasonMaxLen = 16
	panicMsgMaxLen   = 32
)

func threadField(a Address, field string) string {
	return fmt.Sprintf("(uint32_t)((struct ch_thread *)%d)->%s", uint64(a), field)
}

func threadField64(a Address, field string) string {
	return fmt.Sprintf("(uint64_t)((struct ch_thread *)%d)->%s", uint64(a), field)
}

func timerField(a Address, field string) string {
	return fmt.Sprintf("(uint32_t)((struct ch_virtual_timer *)%d)->%s", uint64(a), field)
}

func traceField(a Address, field string) string {
	return fmt.Sprintf("(uint32_t)(((trace_event_t *)%d)->%s)", uint64(a), field)
}

func traceEndExpr(size int64) string {
	return fmt.Sprintf("(uint32_t)&ch.trace_buffer.buffer[%d]", size)
}

func statsField(field string) string {
	return "(uint32_t)ch.kernel_stats." + field
}

func statsField64(field string) string {
	return "(uint64_t)ch.kernel_stats." + field
}
