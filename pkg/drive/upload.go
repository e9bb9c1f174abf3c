package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/asyncdeta/deta_sdk_go/internal/fanout"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

// abortTimeout bounds the abort request, which runs even after the caller's
// context is done.
const abortTimeout = 30 * time.Second

type sessionState int

const (
	stateInitiated sessionState = iota
	statePartsInFlight
	stateFinalized
	stateAborted
)

func (s sessionState) String() string {
	switch s {
	case stateInitiated:
		return "initiated"
	case statePartsInFlight:
		return "parts_in_flight"
	case stateFinalized:
		return "finalized"
	case stateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// uploadSession is owned by a single Push call.
type uploadSession struct {
	id         string
	remotePath string
	parts      []int
	state      sessionState
}

// split cuts data into size-byte slices; the last one may be shorter.
func split(data []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// Push stores src under remotePath. Payloads of at most
// SingleRequestUploadSize bytes are sent in one request; larger ones use a
// multi-part session that is aborted if any part fails.
func (d *Drive) Push(ctx context.Context, remotePath string, src Source) (*FileInfo, error) {
	if err := d.checkPath("push", remotePath); err != nil {
		return nil, err
	}
	data, err := materialize(src)
	if err != nil {
		return nil, detaerr.New("push", d.name, err).WithKey(remotePath)
	}
	if len(data) <= SingleRequestUploadSize {
		info, err := d.client.backend.PutFile(ctx, d.name, remotePath, data)
		d.client.metrics.UploadOutcome("single", outcome(err))
		return info, err
	}
	return d.pushChunked(ctx, remotePath, data)
}

func (d *Drive) pushChunked(ctx context.Context, remotePath string, data []byte) (*FileInfo, error) {
	log := d.client.logger.With("drive", d.name, "name", remotePath, "size", len(data))

	id, err := d.client.backend.StartUpload(ctx, d.name, remotePath)
	if err != nil {
		d.client.metrics.UploadOutcome("multipart", "failed")
		return nil, err
	}
	sess := &uploadSession{id: id, remotePath: remotePath, state: stateInitiated}
	log = log.With("upload_id", id)

	chunks := split(data, SingleRequestUploadSize)
	interior, final := chunks[:len(chunks)-1], chunks[len(chunks)-1]
	sess.parts = make([]int, len(interior))
	for i := range interior {
		sess.parts[i] = i + 1
	}

	sess.state = statePartsInFlight
	log.Debug("upload session started", "parts", len(sess.parts))

	errs, err := fanout.Run(ctx, len(interior), fanout.Options{
		Limit:    d.client.partConcurrency,
		FailFast: true,
	}, func(ctx context.Context, i int) error {
		if err := d.client.backend.UploadPart(ctx, d.name, remotePath, id, sess.parts[i], interior[i]); err != nil {
			return err
		}
		d.client.metrics.PartUploaded()
		return nil
	})
	if err == nil {
		err = fanout.First(errs)
	}
	if err != nil {
		return nil, d.abort(ctx, sess, err)
	}

	info, err := d.client.backend.FinishUpload(ctx, d.name, remotePath, id, final)
	if err != nil {
		d.client.metrics.UploadOutcome("multipart", "failed")
		return nil, err
	}
	sess.state = stateFinalized
	log.Debug("upload session finalized")
	d.client.metrics.UploadOutcome("multipart", "ok")
	return info, nil
}

// abort cancels the session exactly once and reports partErr together with
// the abort outcome. A confirmed abort shows up as status 200 and a message
// naming the cancelled session.
func (d *Drive) abort(ctx context.Context, sess *uploadSession, partErr error) error {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	info, err := d.client.backend.AbortUpload(abortCtx, d.name, sess.remotePath, sess.id)
	sess.state = stateAborted
	d.client.logger.Debug("upload session aborted",
		"drive", d.name,
		"name", sess.remotePath,
		"upload_id", sess.id,
		"cause", partErr,
		"abort_error", err,
	)
	d.client.metrics.UploadOutcome("multipart", "aborted")

	if err == nil {
		return &detaerr.Error{
			Op:         "push",
			Collection: d.name,
			Key:        sess.remotePath,
			StatusCode: http.StatusOK,
			Messages:   []string{abortMessage(info, sess)},
			Err:        errors.Join(detaerr.ErrUploadAborted, partErr),
		}
	}
	var de *detaerr.Error
	if errors.As(err, &de) {
		return &detaerr.Error{
			Op:         "push",
			Collection: d.name,
			Key:        sess.remotePath,
			StatusCode: de.StatusCode,
			Messages:   de.Messages,
			Err:        errors.Join(de.Err, partErr),
		}
	}
	return detaerr.New("push", d.name, errors.Join(err, partErr)).WithKey(sess.remotePath)
}

func abortMessage(info *FileInfo, sess *uploadSession) string {
	id, name := sess.id, sess.remotePath
	if info != nil {
		if info.UploadID != "" {
			id = info.UploadID
		}
		if info.Name != "" {
			name = info.Name
		}
	}
	return fmt.Sprintf("upload %s of %s aborted", id, name)
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
