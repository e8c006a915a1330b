package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkpost/api/internal/domain"
	"github.com/inkpost/api/internal/service/auth"
	"github.com/inkpost/api/internal/service/post"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	handler        http.Handler
	logger         *slog.Logger
	auth           auth.Service
	posts          post.Service
	limiter        RateLimiter
	maxUploadBytes int64
	uploadDir      string
	dbHealth       func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateLimitSignup      = 5
	rateLimitLogin       = 12
	rateLimitResendOTP   = 5
	rateLimitUserWrite   = 60
	healthCheckTimeout   = 2 * time.Second
	defaultMaxUploadSize = 5 << 20
)

// Options carries the non-service knobs the router needs.
type Options struct {
	MaxUploadBytes int64
	UploadDir      string
	CORSOrigin     string
	DBHealth       func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, postSvc post.Service, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:            http.NewServeMux(),
		logger:         logger,
		auth:           authSvc,
		posts:          postSvc,
		limiter:        limiter,
		maxUploadBytes: opts.MaxUploadBytes,
		uploadDir:      strings.TrimSpace(opts.UploadDir),
		dbHealth:       opts.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.maxUploadBytes <= 0 {
		r.maxUploadBytes = defaultMaxUploadSize
	}
	r.initMetrics()
	r.register()

	origin := strings.TrimSpace(opts.CORSOrigin)
	if origin == "" {
		origin = "*"
	}
	r.handler = cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: origin != "*",
		MaxAge:           300,
	})(r.mux)
	return r
}

// ServeHTTP delegates to the CORS-wrapped mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/signUp", r.audit(r.withRateLimit("signUp", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignUp)))
	r.mux.HandleFunc("/verify-otp", r.audit(r.handleVerifyOTP))
	r.mux.HandleFunc("/resend-otp", r.audit(r.withRateLimit("resend-otp", rateLimitResendOTP, rateWindowDefault, rateLimitKeyIP, r.handleResendOTP)))
	r.mux.HandleFunc("/signIn", r.audit(r.withRateLimit("signIn", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleSignIn)))
	r.mux.HandleFunc("/users", r.audit(r.handleUsers))

	listBlogs := r.optionalAuth(r.handleListBlogs)
	createBlog := r.requireAuthRate("blogs", rateLimitUserWrite, rateWindowDefault, r.handleCreateBlog)
	r.mux.HandleFunc("/blogs", r.audit(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			listBlogs(w, req)
		case http.MethodPost:
			createBlog(w, req)
		default:
			r.methodNotAllowed(w)
		}
	}))

	myPosts := r.requireAuth(r.handleMyPosts)
	getBlog := r.optionalAuth(r.handleGetBlog)
	updateBlog := r.requireAuthRate("blogs", rateLimitUserWrite, rateWindowDefault, r.handleUpdateBlog)
	deleteBlog := r.requireAuthRate("blogs", rateLimitUserWrite, rateWindowDefault, r.handleDeleteBlog)
	r.mux.HandleFunc("/blogs/", r.audit(func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/blogs/")
		if rest == "" || strings.Contains(rest, "/") {
			r.notFound(w)
			return
		}
		if rest == "my-posts" {
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			myPosts(w, req)
			return
		}
		switch req.Method {
		case http.MethodGet:
			getBlog(w, req)
		case http.MethodPut:
			updateBlog(w, req)
		case http.MethodDelete:
			deleteBlog(w, req)
		default:
			r.methodNotAllowed(w)
		}
	}))

	if r.uploadDir != "" {
		files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(r.uploadDir)))
		r.mux.Handle("/uploads/", r.audit(func(w http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				r.methodNotAllowed(w)
				return
			}
			files.ServeHTTP(w, req)
		}))
	}
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) handleSignUp(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload signUpRequest
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := r.auth.Register(req.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		r.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "registration successful, verify the OTP sent to your email",
		"user":    userJSON(user),
	})
}

type verifyOTPRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

func (r *Router) handleVerifyOTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload verifyOTPRequest
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.VerifyOTP(req.Context(), payload.UserID, payload.OTP)
	if err != nil {
		r.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "email verified successfully",
		"token":   token,
		"user":    userJSON(user),
	})
}

type resendOTPRequest struct {
	Email string `json:"email"`
}

func (r *Router) handleResendOTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload resendOTPRequest
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.auth.ResendOTP(req.Context(), payload.Email); err != nil {
		r.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "a new OTP has been sent to your email"})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) handleSignIn(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload signInRequest
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userJSON(user),
	})
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	users, err := r.auth.ListUsers(req.Context())
	if err != nil {
		r.logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]map[string]any, 0, len(users))
	for i := range users {
		out = append(out, userJSON(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (r *Router) handleListBlogs(w http.ResponseWriter, req *http.Request) {
	page, pageSize := paginationParams(req)
	viewerID := ""
	if info, ok := authInfoFromContext(req.Context()); ok {
		viewerID = info.UserID
	}
	result, err := r.posts.ListAll(req.Context(), page, pageSize, viewerID)
	if err != nil {
		r.logger.Error("list blogs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch blogs")
		return
	}
	writeJSON(w, http.StatusOK, pageJSON(result))
}

func (r *Router) handleMyPosts(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	page, pageSize := paginationParams(req)
	result, err := r.posts.ListByOwner(req.Context(), info.UserID, page, pageSize)
	if err != nil {
		r.logger.Error("list own blogs failed", "error", err, "user_id", info.UserID)
		writeError(w, http.StatusInternalServerError, "failed to fetch blogs")
		return
	}
	writeJSON(w, http.StatusOK, pageJSON(result))
}

func (r *Router) handleGetBlog(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/blogs/")
	viewerID := ""
	if info, ok := authInfoFromContext(req.Context()); ok {
		viewerID = info.UserID
	}
	view, err := r.posts.GetByID(req.Context(), id, viewerID)
	if err != nil {
		r.writePostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postJSON(view))
}

func (r *Router) handleCreateBlog(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	input, err := r.postInput(w, req)
	if err != nil {
		return
	}
	view, err := r.posts.Create(req.Context(), *input, info.UserID)
	if err != nil {
		r.writePostError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, postJSON(view))
}

func (r *Router) handleUpdateBlog(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/blogs/")
	info, _ := authInfoFromContext(req.Context())
	input, err := r.postInput(w, req)
	if err != nil {
		return
	}
	view, err := r.posts.Update(req.Context(), id, *input, info.UserID)
	if err != nil {
		r.writePostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postJSON(view))
}

func (r *Router) handleDeleteBlog(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/blogs/")
	info, _ := authInfoFromContext(req.Context())
	if err := r.posts.Delete(req.Context(), id, info.UserID); err != nil {
		r.writePostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Blog deleted successfully"})
}

// postInput parses the multipart form for create/update, storing an uploaded
// image when present. On error the response has already been written and the
// caller should just return.
func (r *Router) postInput(w http.ResponseWriter, req *http.Request) (*post.Input, error) {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUploadBytes)
	if err := req.ParseMultipartForm(r.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "uploaded file too large")
			return nil, err
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return nil, err
	}
	input := &post.Input{
		Title:       req.FormValue("title"),
		Description: req.FormValue("description"),
		Content:     req.FormValue("content"),
	}
	file, header, err := req.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return input, nil
	case err != nil:
		writeError(w, http.StatusBadRequest, "could not read uploaded image")
		return nil, err
	}
	defer file.Close()
	ref, err := r.saveUpload(req.Context(), file, header)
	if err != nil {
		r.logger.Error("image upload failed", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "could not store uploaded image")
		return nil, err
	}
	input.ImageURL = ref
	return input, nil
}

func (r *Router) saveUpload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error) {
	contentType := header.Header.Get("Content-Type")
	return r.posts.SaveImage(ctx, header.Filename, contentType, file)
}

func (r *Router) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidOrExpired),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailDelivery):
		writeError(w, http.StatusInternalServerError, "could not send verification email, please try again later")
	default:
		r.logger.Error("auth operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (r *Router) writePostError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, post.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, post.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, post.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		r.logger.Error("post operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := "ok"
	components := map[string]string{}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = err.Error()
		} else {
			components["database"] = "ok"
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses parameterized paths so metrics cardinality stays fixed.
func routeLabel(path string) string {
	if path == "/blogs/my-posts" {
		return path
	}
	if strings.HasPrefix(path, "/blogs/") {
		return "/blogs/{id}"
	}
	if strings.HasPrefix(path, "/uploads/") {
		return "/uploads/"
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func decodeJSON(req *http.Request, dst any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func paginationParams(req *http.Request) (int, int) {
	query := req.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("limit"))
	return page, pageSize
}

func userJSON(u *domain.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"name":       u.Name,
		"email":      u.Email,
		"created_at": u.CreatedAt,
	}
}

func postJSON(v *domain.PostView) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"title":       v.Title,
		"description": v.Description,
		"content":     v.Content,
		"image_url":   v.ImageURL,
		"author_id":   v.AuthorID,
		"author_name": v.AuthorName,
		"created_at":  v.CreatedAt,
		"updated_at":  v.UpdatedAt,
		"is_owner":    v.IsOwner,
	}
}

func pageJSON(p *post.Page) map[string]any {
	blogs := make([]map[string]any, 0, len(p.Posts))
	for i := range p.Posts {
		blogs = append(blogs, postJSON(&p.Posts[i]))
	}
	return map[string]any{
		"blogs":      blogs,
		"pagination": p.Pagination,
	}
}
