package video

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/google/uuid"

	"github.com/open-teleop/presence/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/presence/pkg/log"
)

// FrameTopic is the OTT carried by every wrapped video frame.
const FrameTopic = "video.frame"

// FrameHandler receives a finished OttMessage buffer. The buffer must not be
// modified.
type FrameHandler func(buf []byte)

// StreamStats summarises the frames relayed since start.
type StreamStats struct {
	Frames      int64    `json:"frames"`
	Bytes       int64    `json:"bytes"`
	LastFrameNs int64    `json:"last_frame_ns"`
	Subscribers []string `json:"subscribers"`
}

// VideoService relays encoded frames from the event channel to local
// subscribers, wrapped as ENCODED_VIDEO_FRAME messages.
type VideoService struct {
	mu          sync.RWMutex
	logger      customlog.Logger
	subscribers map[string]FrameHandler
	frames      int64
	bytes       int64
	lastFrameNs int64
	now         func() time.Time
}

// NewVideoService creates a new video service instance
func NewVideoService(logger customlog.Logger) *VideoService {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &VideoService{
		logger:      logger,
		subscribers: make(map[string]FrameHandler),
		now:         time.Now,
	}
}

// OnVideoFrame wraps a raw frame and hands it to every subscriber.
func (s *VideoService) OnVideoFrame(frame []byte) {
	ts := s.now().UnixNano()
	buf := EncodeFrame(frame, ts)

	s.mu.Lock()
	s.frames++
	s.bytes += int64(len(frame))
	s.lastFrameNs = ts
	handlers := make([]FrameHandler, 0, len(s.subscribers))
	for _, h := range s.subscribers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(buf)
	}
}

// EncodeFrame builds an OttMessage around an encoded frame.
func EncodeFrame(frame []byte, timestampNs int64) []byte {
	builder := flatbuffers.NewBuilder(len(frame) + 64)
	ott := builder.CreateString(FrameTopic)
	payload := builder.CreateByteVector(frame)

	message.OttMessageStart(builder)
	message.OttMessageAddOtt(builder, ott)
	message.OttMessageAddTimestampNs(builder, timestampNs)
	message.OttMessageAddContentType(builder, message.ContentTypeENCODED_VIDEO_FRAME)
	message.OttMessageAddPayload(builder, payload)
	builder.Finish(message.OttMessageEnd(builder))
	return builder.FinishedBytes()
}

// StartStream registers a subscriber and returns its stream ID.
func (s *VideoService) StartStream(handler FrameHandler) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.subscribers[id] = handler
	s.mu.Unlock()
	s.logger.Infof("Video stream %s started", id)
	return id
}

// StopStream removes a subscriber. Unknown IDs are ignored.
func (s *VideoService) StopStream(streamID string) {
	s.mu.Lock()
	_, ok := s.subscribers[streamID]
	delete(s.subscribers, streamID)
	s.mu.Unlock()
	if ok {
		s.logger.Infof("Video stream %s stopped", streamID)
	}
}

// GetActiveStreams returns the IDs of all subscribers.
func (s *VideoService) GetActiveStreams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns the relay counters.
func (s *VideoService) Stats() StreamStats {
	streams := s.GetActiveStreams()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStats{
		Frames:      s.frames,
		Bytes:       s.bytes,
		LastFrameNs: s.lastFrameNs,
		Subscribers: streams,
	}
}

// StreamHandler reports the relay counters.
func (s *VideoService) StreamHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "success",
		"stream": s.Stats(),
	})
}
