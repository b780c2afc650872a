package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/transit/internal/logger"
	"github.com/marmos91/transit/pkg/filemeta"
	"github.com/marmos91/transit/pkg/transiterr"
)

type handlers struct {
	deps Dependencies
}

// uidPattern matches the charset the original implementation accepted for
// transfer identifiers: URL-safe token characters only.
var uidPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// crawlerUserAgents are link-preview bots that must see metadata only and
// must never be allowed to claim the transfer's single receiver slot.
var crawlerUserAgents = []string{
	"whatsapp",
	"facebookexternalhit",
	"twitterbot",
	"slackbot-linkexpanding",
	"discordbot",
	"googlebot",
	"bingbot",
	"linkedinbot",
	"pinterestbot",
	"telegrambot",
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *handlers) robots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("User-agent: *\nDisallow: /send/\nDisallow: /receive/\n"))
}

// upload handles PUT /<uid>/<filename>: the sender streams the request body
// and the handler relays it onto the uid's queue once a receiver is ready.
func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if !uidPattern.MatchString(uid) {
		writeError(w, transiterr.NewInvalidInputError(uid, "invalid transfer id"))
		return
	}

	meta, err := filemeta.FromHTTPHeaders(
		chi.URLParam(r, "filename"),
		r.Header.Get("Content-Length"),
		r.Header.Get("Content-Type"),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	if meta.Size > h.deps.MaxUploadSize {
		writeError(w, transiterr.NewTooLargeError(uid, "upload of %d bytes exceeds the %d byte limit", meta.Size, h.deps.MaxUploadSize))
		return
	}

	if err := h.deps.Transfer.Create(r.Context(), uid, meta); err != nil {
		writeError(w, err)
		return
	}

	if err := h.deps.Transfer.WaitForClientConnected(r.Context(), uid, h.deps.ReceiverWaitTimeout); err != nil {
		writeError(w, err)
		return
	}

	// The response hasn't started yet at this point, so an upload failure
	// is reported entirely through CollectUpload's returned error below;
	// onError here only logs, matching raise_http_exception's "response
	// already covered by the caller" branch.
	onError := func(ctx context.Context, uploadErr error) {
		logger.WarnCtx(ctx, "upload failed", logger.HandleHex(uid), logger.Err(uploadErr))
	}

	if err := h.deps.Transfer.CollectUpload(r.Context(), uid, r.Body, meta.Size, onError); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Transfer complete."))
}

// download handles GET /<uid> and GET /<uid>/: crawlers and plain browser
// visits get metadata-only HTML without claiming the receiver slot; a
// curl-like client or an explicit ?download=true claims the slot and
// streams the file.
func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if !uidPattern.MatchString(uid) {
		writeError(w, transiterr.NewInvalidInputError(uid, "invalid transfer id"))
		return
	}

	meta, err := h.deps.Transfer.Get(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	if isCrawler(ua) {
		h.renderCrawlerPreview(w, meta)
		return
	}

	wantsDownload := r.URL.Query().Get("download") == "true" || isCurl(ua)
	if !wantsDownload {
		h.renderDownloadPage(r.Context(), w, uid, meta)
		return
	}

	if err := h.deps.Transfer.ConnectReceiver(r.Context(), uid); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Transfer.SetClientConnected(r.Context(), uid); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", meta.Type)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.Name))
	w.WriteHeader(http.StatusOK)

	// Headers and status are already on the wire, so an error here can only
	// terminate the stream, not change the response; onError just logs.
	onError := func(ctx context.Context, downloadErr error) {
		logger.WarnCtx(ctx, "download failed", logger.HandleHex(uid), logger.Err(downloadErr))
	}

	_, downloadErr := h.deps.Transfer.SupplyDownload(r.Context(), uid, meta.Size, w, onError)
	if downloadErr != nil {
		logger.WarnCtx(r.Context(), "download stream failed", logger.HandleHex(uid), logger.Err(downloadErr))
	}

	go func() {
		finalizeCtx := context.Background()
		if err := h.deps.Transfer.FinalizeDownload(finalizeCtx, uid); err != nil {
			logger.WarnCtx(finalizeCtx, "finalize download failed", logger.HandleHex(uid), logger.Err(err))
		}
	}()
}

func (h *handlers) renderCrawlerPreview(w http.ResponseWriter, meta *filemeta.FileMetadata) {
	data := PreviewData{
		Name:      meta.Name,
		SizeLabel: filemeta.FormatSize(meta.Size),
		TypeLabel: filemeta.FormatType(meta.Type),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = crawlerPreviewTemplate.Execute(w, data)
}

func (h *handlers) renderDownloadPage(ctx context.Context, w http.ResponseWriter, uid string, meta *filemeta.FileMetadata) {
	connected, err := h.deps.Transfer.IsReceiverConnected(ctx, uid)
	if err != nil {
		logger.WarnCtx(ctx, "failed to check receiver status for download page", logger.HandleHex(uid), logger.Err(err))
	}
	data := DownloadPageData{
		Name:              meta.Name,
		SizeLabel:         filemeta.FormatSize(meta.Size),
		TypeLabel:         filemeta.FormatType(meta.Type),
		ReceiverConnected: connected,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = downloadPageTemplate.Execute(w, data)
}

func isCrawler(lowerUA string) bool {
	for _, agent := range crawlerUserAgents {
		if strings.Contains(lowerUA, agent) {
			return true
		}
	}
	return false
}

func isCurl(lowerUA string) bool {
	return strings.HasPrefix(lowerUA, "curl/") || strings.HasPrefix(lowerUA, "wget/")
}

func writeError(w http.ResponseWriter, err error) {
	code := transiterr.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  code.String(),
		"detail": err.Error(),
	})
}
