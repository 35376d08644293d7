package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"VizBridge/internal/auth"
	"VizBridge/internal/dataspec"
	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/observability/metrics"
	"VizBridge/internal/queue"
	"VizBridge/internal/ready"
	"VizBridge/internal/rpc"
	"VizBridge/internal/schema"
	"VizBridge/internal/settings"
	"VizBridge/pkg/logger"
)

// maxBodyBytes 限制单个请求体大小。
const maxBodyBytes = 8 << 20

// Backend 是 HTTP 接口背后的会话能力。
type Backend interface {
	ID() string
	Gate() *ready.Gate
	Init(callbackURL string) error
	SaveSettings(ctx context.Context, values map[string]any, opts settings.SaveOptions) error
	CloseDialog(payload string) error
	Schema(ctx context.Context) (*schema.Schema, error)
}

// Server 负责暴露控制进程使用的 REST 接口。
type Server struct {
	addr     string
	backend  Backend
	producer queue.Producer
	stream   http.Handler
	metrics  *metrics.Registry
	guard    *auth.TokenGuard
	log      *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithStream 挂载出站消息的 websocket 处理器。
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithMetrics 启用请求指标与 /metrics。
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTokenGuard 要求 /api/v1 下的请求携带访问令牌。
func WithTokenGuard(g *auth.TokenGuard) Option {
	return func(s *Server) { s.guard = g }
}

// NewServer 构造 API 服务实例，RPC 请求投递到 producer。
func NewServer(addr string, backend Backend, producer queue.Producer, opts ...Option) *Server {
	s := &Server{addr: addr, backend: backend, producer: producer, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "init", "/api/v1/init", s.handleInit)
	s.route(mux, "rpc", "/api/v1/rpc", s.handleRPC)
	s.route(mux, "settings", "/api/v1/settings", s.handleSettings)
	s.route(mux, "dialog_close", "/api/v1/dialog/close", s.handleDialogClose)
	s.route(mux, "schema", "/api/v1/schema", s.handleSchema)
	s.route(mux, "healthz", "/healthz", s.handleHealth)
	if s.stream != nil {
		// websocket 升级需要原始 ResponseWriter，不经过指标包装。
		mux.Handle("/api/v1/ws", s.guard.Middleware(s.stream))
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, name, pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if strings.HasPrefix(pattern, "/api/") {
		h = s.guard.Middleware(h)
	}
	if s.metrics != nil {
		h = s.metrics.Instrument(name, h)
	}
	mux.Handle(pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type initRequest struct {
	CallbackURL string `json:"callbackUrl"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req initRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.backend.Init(req.CallbackURL); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": s.backend.ID()})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req rpc.Request
	if !s.decode(w, r, &req) {
		return
	}
	if err := queue.Enqueue(r.Context(), s.producer, req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID})
}

type settingsRequest struct {
	Settings map[string]any `json:"settings"`
	Save     bool           `json:"save"`
	Add      bool           `json:"add"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req settingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Settings == nil {
		req.Settings = map[string]any{}
	}
	opts := settings.SaveOptions{Save: req.Save, Add: req.Add}
	if err := s.backend.SaveSettings(r.Context(), req.Settings, opts); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dialogCloseRequest struct {
	Payload string `json:"payload"`
}

func (s *Server) handleDialogClose(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req dialogCloseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.backend.CloseDialog(req.Payload); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sc, err := s.backend.Schema(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	gate := s.backend.Gate()
	status, code := "starting", http.StatusServiceUnavailable
	if gate.Settled() {
		if gate.Err() != nil {
			status = "failed"
		} else {
			status, code = "ok", http.StatusOK
		}
	}
	writeJSON(w, code, map[string]string{"status": status, "session": s.backend.ID()})
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "仅支持 "+method, http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := xerrors.PayloadOf(err)
	status := statusFor(body.Code)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, dataspec.CodeInvalidSpec, rpc.CodeUnknownMethod:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeHostUnavailable, xerrors.CodeInitFailure, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeHostCallFailure, xerrors.CodePersistenceFailure, xerrors.CodeStorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
