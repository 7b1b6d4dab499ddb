// Package hlsserve exposes the HTTP resources of a prepared media file:
// the variant playlist, the init segment, and per-index media segments,
// each resolved through the prepared-media cache and (for media segments)
// streamed by concatenating precomputed header bytes with raw sample
// bytes read straight from the source file.
package hlsserve

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/mediahls/internal/hlscache"
	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/source"
)

// Handler serves HLS playlists and segments for prepared media files.
type Handler struct {
	cache         *hlscache.Cache
	sources       *source.Store
	targetSeconds float64
	logger        *slog.Logger
}

// NewHandler constructs a Handler. cache resolves a media_file_id to its
// PreparedMedia; sources opens the underlying file for segment reads;
// targetSegmentSeconds is the planner target for lazily-built files
// (0 means DefaultTargetSegmentSeconds).
func NewHandler(cache *hlscache.Cache, sources *source.Store, targetSegmentSeconds float64, logger *slog.Logger) *Handler {
	if targetSegmentSeconds <= 0 {
		targetSegmentSeconds = DefaultTargetSegmentSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cache: cache, sources: sources, targetSeconds: targetSegmentSeconds, logger: logger}
}

// RegisterFileServer mounts the raw HTTP routes under
// /hls/{mediaFileID}/.... Call this AFTER Register: both mount the
// playlist and init-segment paths on the same router, and the raw
// handlers must win so the response bodies go out verbatim instead of
// through huma's marshaling.
func (h *Handler) RegisterFileServer(router *chi.Mux) {
	router.Get("/hls/{mediaFileID}/index.m3u8", h.servePlaylist)
	router.Get("/hls/{mediaFileID}/init.mp4", h.serveInitSegment)
	router.Get("/hls/{mediaFileID}/{segmentFile}", h.serveSegment)
}

// Register registers the HLS operations with huma. The playlist and
// init-segment entries are documentation-only: the raw chi handlers
// registered by RegisterFileServer overwrite them and serve the actual
// traffic, because huma would JSON-encode the playlist string and cannot
// stream the verbatim byte bodies these resources require. Only the info
// operation is served through huma.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHLSPlaylist",
		Method:      "GET",
		Path:        "/hls/{mediaFileID}/index.m3u8",
		Summary:     "Get the HLS variant playlist for a prepared media file",
		Tags:        []string{"HLS"},
	}, h.playlistDocsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "getHLSInitSegment",
		Method:      "GET",
		Path:        "/hls/{mediaFileID}/init.mp4",
		Summary:     "Get the fragmented-MP4 initialization segment",
		Tags:        []string{"HLS"},
	}, h.initSegmentDocsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "getHLSMediaInfo",
		Method:      "GET",
		Path:        "/hls/{mediaFileID}/info",
		Summary:     "Get prepared-media metadata for a media file",
		Tags:        []string{"HLS"},
	}, h.GetMediaInfo)
}

// MediaInfo summarizes a prepared media file for API consumers.
type MediaInfo struct {
	MediaFileID    string  `json:"media_file_id"`
	Width          uint16  `json:"width"`
	Height         uint16  `json:"height"`
	DurationSecs   float64 `json:"duration_secs"`
	TargetDuration uint32  `json:"target_duration"`
	SegmentCount   int     `json:"segment_count"`
	VideoCodec     string  `json:"video_codec"`
	AudioCodec     string  `json:"audio_codec,omitempty"`
}

// MediaInfoOutput wraps MediaInfo for huma.
type MediaInfoOutput struct {
	Body MediaInfo
}

// GetMediaInfo reports the prepared artifact's dimensions, duration, codec
// identifiers, and segment count, preparing the file on first request just
// like the playlist route does.
func (h *Handler) GetMediaInfo(ctx context.Context, input *PlaylistInput) (*MediaInfoOutput, error) {
	pm, err := h.resolve(ctx, input.MediaFileID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &MediaInfoOutput{Body: MediaInfo{
		MediaFileID:    pm.MediaFileID,
		Width:          pm.Width,
		Height:         pm.Height,
		DurationSecs:   pm.DurationSecs,
		TargetDuration: pm.TargetDuration,
		SegmentCount:   len(pm.Segments),
		VideoCodec:     pm.VideoCodec,
		AudioCodec:     pm.AudioCodec,
	}}, nil
}

// PlaylistInput identifies the prepared media file.
type PlaylistInput struct {
	MediaFileID string `path:"mediaFileID"`
}

// PlaylistOutput describes the playlist response for OpenAPI.
type PlaylistOutput struct {
	ContentType string `header:"Content-Type"`
	Body        string
}

// playlistDocsHandler is a no-op handler for the documentation-only
// playlist registration; servePlaylist handles the route.
func (h *Handler) playlistDocsHandler(ctx context.Context, input *PlaylistInput) (*PlaylistOutput, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by raw chi handlers")
}

// InitSegmentOutput describes the init-segment response for OpenAPI.
type InitSegmentOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// initSegmentDocsHandler is a no-op handler for the documentation-only
// init-segment registration; serveInitSegment handles the route.
func (h *Handler) initSegmentDocsHandler(ctx context.Context, input *PlaylistInput) (*InitSegmentOutput, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by raw chi handlers")
}

func (h *Handler) servePlaylist(w http.ResponseWriter, r *http.Request) {
	mediaFileID := chi.URLParam(r, "mediaFileID")
	pm, err := h.resolve(r.Context(), mediaFileID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(pm.VariantPlaylist))
}

func (h *Handler) serveInitSegment(w http.ResponseWriter, r *http.Request) {
	mediaFileID := chi.URLParam(r, "mediaFileID")
	pm, err := h.resolve(r.Context(), mediaFileID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pm.InitSegment)
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request) {
	mediaFileID := chi.URLParam(r, "mediaFileID")
	segmentFile := chi.URLParam(r, "segmentFile")

	index, err := parseSegmentIndex(segmentFile)
	if err != nil {
		writeError(w, err)
		return
	}

	pm, err := h.resolve(r.Context(), mediaFileID)
	if err != nil {
		writeError(w, err)
		return
	}
	if index < 0 || index >= len(pm.Segments) {
		writeError(w, mediaerr.New(mediaerr.NotFound, "segment index out of range"))
		return
	}
	seg := pm.Segments[index]

	src, err := h.sources.Open(pm.SourcePath)
	if err != nil {
		writeError(w, err)
		return
	}
	defer src.Close()

	contentLength := len(seg.MoofBytes) + len(seg.MdatHeader) + int(seg.DataLength)
	w.Header().Set("Content-Type", "video/iso.segment")
	w.Header().Set("Content-Length", strconv.Itoa(contentLength))
	w.WriteHeader(http.StatusOK)

	// The body is strictly ordered: moof, mdat header, video ranges in
	// decode order, then audio ranges in decode order. Once the first byte
	// is written, any further error simply terminates the connection.
	if _, err := w.Write(seg.MoofBytes); err != nil {
		return
	}
	if _, err := w.Write(seg.MdatHeader); err != nil {
		return
	}
	if err := streamRanges(w, src, seg.VideoRanges); err != nil {
		return
	}
	_ = streamRanges(w, src, seg.AudioRanges)
}

func streamRanges(w http.ResponseWriter, src *source.File, ranges []hlscache.DataRange) error {
	const chunkSize = 256 * 1024
	buf := make([]byte, chunkSize)
	for _, rng := range ranges {
		remaining := rng.Length
		offset := int64(rng.Offset)
		for remaining > 0 {
			n := uint64(len(buf))
			if remaining < n {
				n = remaining
			}
			read, err := src.ReadAt(buf[:n], offset)
			if read > 0 {
				if _, werr := w.Write(buf[:read]); werr != nil {
					return werr
				}
				offset += int64(read)
				remaining -= uint64(read)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) resolve(ctx context.Context, mediaFileID string) (*hlscache.PreparedMedia, error) {
	identity, err := h.sources.Identity(mediaFileID)
	if err != nil {
		return nil, err
	}
	return h.cache.GetOrBuild(ctx, mediaFileID, identity, h.build)
}

func (h *Handler) build(ctx context.Context, mediaFileID string, identity source.Identity) (*hlscache.PreparedMedia, error) {
	src, err := h.sources.Open(identity.Path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return hlscache.Build(mediaFileID, identity, src, h.targetSeconds)
}

// DefaultTargetSegmentSeconds is the segment-planner target used when the
// handler is constructed without an explicit one.
const DefaultTargetSegmentSeconds = 6.0

// parseSegmentIndex extracts N from a "segment_<N>.m4s" filename, rejecting
// anything that isn't exactly that shape (path separators, "..", or a NUL
// byte included) as InvalidPath.
func parseSegmentIndex(name string) (int, error) {
	if strings.ContainsAny(name, "/\x00") || strings.Contains(name, "..") {
		return 0, mediaerr.New(mediaerr.InvalidPath, name)
	}
	if !strings.HasPrefix(name, "segment_") || !strings.HasSuffix(name, ".m4s") {
		return 0, mediaerr.New(mediaerr.InvalidPath, name)
	}
	numeric := strings.TrimSuffix(strings.TrimPrefix(name, "segment_"), ".m4s")
	n, err := strconv.Atoi(numeric)
	if err != nil || n < 0 {
		return 0, mediaerr.New(mediaerr.InvalidPath, name)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	kind, ok := mediaerr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case mediaerr.NotFound:
		return http.StatusNotFound
	case mediaerr.InvalidPath:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func toHumaError(err error) error {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		return huma.Error404NotFound(err.Error())
	case http.StatusBadRequest:
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
