package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/listings"
	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/onchain"
)

// serveQuery holds sub for the duration of the request, waits for its first
// result and writes it.
func serveQuery[V any](h *Handler, w http.ResponseWriter, r *http.Request, sub *livecache.Subscription[V]) {
	serveQueryAs(h, w, r, sub, func(v V) V { return v })
}

// serveQueryAs is serveQuery with a presentation step applied to the data.
func serveQueryAs[V, O any](h *Handler, w http.ResponseWriter, r *http.Request, sub *livecache.Subscription[V], present func(V) O) {
	defer sub.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.queryWait)
	defer cancel()
	res := sub.Wait(ctx)

	if !res.HasData && res.Err != nil {
		h.writeUpstreamError(w, res.Err)
		return
	}

	dto := QueryDTO[O]{
		IsLoading:  res.IsLoading,
		IsFetching: res.IsFetching,
	}
	if res.HasData {
		out := present(res.Data)
		dto.Data = &out
	}
	if res.Err != nil {
		msg := res.Err.Error()
		dto.Error = &msg
	}
	if !res.LastFetchedAt.IsZero() {
		ms := res.LastFetchedAt.UnixMilli()
		dto.LastFetchedAt = &ms
	}

	h.writeJSON(w, http.StatusOK, dto)
}

// writeUpstreamError separates malformed upstream data from an unreachable
// upstream.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error) {
	if isDecodeError(err) {
		h.writeError(w, http.StatusBadGateway, codeDecodeError, err.Error())
		return
	}
	h.writeError(w, http.StatusServiceUnavailable, codeUpstreamUnavailable, err.Error())
}

func isDecodeError(err error) bool {
	var (
		listingErr *listings.DecodeError
		chainErr   *onchain.DecodeError
		bookErr    *econia.DecodeError
	)
	return errors.As(err, &listingErr) || errors.As(err, &chainErr) || errors.As(err, &bookErr)
}
