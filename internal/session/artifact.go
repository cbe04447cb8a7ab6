package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotCompleted rejects artifact mutation before the session has
	// actually run to completion.
	ErrSessionNotCompleted = errors.New("session is not completed")
	ErrVideoNotFound       = errors.New("session has no video artifact")
)

// VideoUpload carries an incoming recording and its metadata.
type VideoUpload struct {
	FileName    string
	ContentType string
	Content     io.Reader
	Title       string
	Description string
}

// AttachVideo uploads a recording and attaches it to a completed session. If
// a prior artifact exists, its storage object is deleted only after the new
// upload and the DB update have both succeeded, so a failed replacement never
// destroys a working artifact.
func (s *Service) AttachVideo(ctx context.Context, actor Actor, id uuid.UUID, upload VideoUpload) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, sess, OpVideo); err != nil {
		return nil, err
	}
	if sess.Status != StatusCompleted {
		return nil, ErrSessionNotCompleted
	}
	if upload.FileName == "" || upload.Content == nil {
		return nil, fmt.Errorf("%w: video file is required", ErrValidation)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	obj, err := s.store.Upload(uploadCtx, upload.FileName, upload.ContentType, upload.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: video upload: %v", ErrExternalService, err)
	}

	prior := sess.Video

	artifact := VideoArtifact{
		URL:         obj.URL,
		StorageKey:  obj.Key,
		UploadedAt:  s.clock.Now(),
		UploadedBy:  actor.ID,
		Title:       upload.Title,
		Description: upload.Description,
	}

	updated, err := s.repo.SetVideo(ctx, id, &artifact)
	if err != nil {
		// The DB still points at the old artifact; remove the freshly
		// uploaded object instead of orphaning it.
		s.deleteObject(ctx, obj.Key)
		return nil, err
	}

	if prior != nil {
		s.deleteObject(ctx, prior.StorageKey)
	}

	s.logEvent(ctx, id, EventVideoAttached, map[string]any{
		"storage_key": obj.Key,
	})

	return updated, nil
}

// UpdateVideoMeta edits artifact title/description. Metadata only: no
// storage I/O happens here.
func (s *Service) UpdateVideoMeta(ctx context.Context, actor Actor, id uuid.UUID, title, description *string) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, sess, OpVideo); err != nil {
		return nil, err
	}
	if sess.Video == nil {
		return nil, ErrVideoNotFound
	}

	return s.repo.UpdateVideoMeta(ctx, id, title, description)
}

// RemoveVideo deletes the artifact. Storage cleanup is best effort: the
// durable reference is cleared even when the object store call fails, so a
// storage transient never surfaces as a user-facing failure.
func (s *Service) RemoveVideo(ctx context.Context, actor Actor, id uuid.UUID) error {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, sess, OpVideo); err != nil {
		return err
	}
	if sess.Video == nil {
		return ErrVideoNotFound
	}

	s.deleteObject(ctx, sess.Video.StorageKey)

	if _, err := s.repo.ClearVideo(ctx, id); err != nil {
		return err
	}

	s.logEvent(ctx, id, EventVideoRemoved, map[string]any{
		"storage_key": sess.Video.StorageKey,
	})

	return nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	delCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	if err := s.store.Delete(delCtx, key); err != nil {
		s.log.Warn().Err(err).Str("storage_key", key).Msg("object storage delete failed")
	}
}
