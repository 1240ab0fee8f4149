package handlers

import (
	"bufio"
	"net"
	"net/http"
)

// StatusRecorder 记录写出的状态码，供日志、追踪与指标中间件共用。
// 保留 Hijack 与 Unwrap，/ws/llm/{name} 的升级可以穿过整条中间件链。
type StatusRecorder struct {
	http.ResponseWriter
	status   int
	written  bool
	hijacked bool
}

// NewStatusRecorder 包装 w，未显式写头时状态码为 200
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status 返回写出的状态码，升级后的连接记为 101
func (rec *StatusRecorder) Status() int {
	return rec.status
}

// Hijacked 连接是否已被接管
func (rec *StatusRecorder) Hijacked() bool {
	return rec.hijacked
}

func (rec *StatusRecorder) WriteHeader(code int) {
	if rec.written {
		return
	}
	rec.status = code
	rec.written = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *StatusRecorder) Write(b []byte) (int, error) {
	if !rec.written {
		rec.WriteHeader(http.StatusOK)
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(rec.ResponseWriter).Hijack()
	if err != nil {
		return nil, nil, err
	}
	rec.status = http.StatusSwitchingProtocols
	rec.written = true
	rec.hijacked = true
	return conn, rw, nil
}

func (rec *StatusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
