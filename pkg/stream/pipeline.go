package stream

import (
	"fmt"
	"sort"
	"time"

	"github.com/cupertinolabs/streamproc/pkg/detection"
	"github.com/cupertinolabs/streamproc/pkg/registry"
	"github.com/cupertinolabs/streamproc/pkg/schema"
)

// pipelineLoop reads frames from the video source and runs each through
// the inference/dispatch steps of spec.md §4.8, until the source ends or
// Stop cancels the service. Per spec.md §5, a blocking NextFrame call is
// only unblocked by the external pipeline (or the source itself ending);
// cancellation is observed between frames.
func (s *Service) pipelineLoop() {
	defer close(s.pipelineDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		frame, width, height, err := s.source.NextFrame()
		if err != nil {
			s.logger.Info().Err(err).Msg("video source ended; stopping pipeline")
			return
		}

		s.processFrame(frame, width, height)
	}
}

// processFrame runs one frame through model read, detection, tracking,
// and zone evaluation, then dispatches the results for publishing.
func (s *Service) processFrame(frame []byte, width, height int) {
	frameID := s.frameID.Add(1) - 1
	ts := time.Now()

	s.modelMu.RLock()
	current := s.loader.Current()
	s.modelMu.RUnlock()

	if current == nil {
		s.logger.Warn().Int64("frame_id", frameID).Msg("no model loaded; dropping frame")
		s.metrics.FramesDropped.Inc()
		return
	}

	batch, err := current.Detector.Detect(frame, width, height, current.Confidence, current.IOU, s.cfg.DefaultMaxDetections)
	if err != nil {
		s.logger.Error().Err(err).Int64("frame_id", frameID).Msg("detector failed; dropping frame")
		s.metrics.FramesDropped.Inc()
		return
	}

	batch, err = s.tracker.Update(batch)
	if err != nil {
		s.logger.Error().Err(err).Int64("frame_id", frameID).Msg("tracker failed; dropping frame")
		s.metrics.FramesDropped.Inc()
		return
	}

	results, err := s.registry.Evaluate(batch, s.classNames)
	if err != nil {
		s.logger.Error().Err(err).Int64("frame_id", frameID).Msg("zone evaluation failed; dropping frame")
		s.metrics.FramesDropped.Inc()
		return
	}

	s.metrics.FramesProcessed.Inc()
	s.metrics.DetectionsFound.Add(float64(len(batch)))
	s.metrics.ZoneEvaluations.Add(float64(len(results)))

	s.dispatch(frameID, ts, batch, results)
}

// dispatch builds the two per-frame envelopes and enqueues them for the
// publisher worker. Pausing (spec.md §4.8) suppresses enqueueing only;
// inference above still ran, so the tracker and zone counters stay
// current for when resume is issued.
func (s *Service) dispatch(frameID int64, ts time.Time, batch detection.Batch, results map[string]registry.Result) {
	if s.paused.Load() {
		return
	}

	detEnv := buildDetectionEnvelope(s.cfg.SourceID, frameID, ts, batch, s.classNames)
	zoneEnv := buildZoneEventEnvelope(s.cfg.SourceID, frameID, ts, results, batch)

	s.enqueue(queueItem{kind: kindDetection, detection: detEnv})
	s.enqueue(queueItem{kind: kindZoneEvent, zoneEvent: zoneEnv})
}

func (s *Service) enqueue(item queueItem) {
	select {
	case s.queue <- item:
	default:
		s.dropped.Add(1)
		s.metrics.PublishQueueDrops.Inc()
		s.logger.Warn().Str("kind", item.kind.String()).Msg("publish queue full; dropping message")
	}
	s.metrics.PublishQueueDepth.Set(float64(len(s.queue)))
}

// publisherWorker dequeues envelopes and publishes them until workerStop
// is closed and the queue has drained. Queued items take priority over
// the stop signal so a Stop() racing with a just-enqueued pair of
// envelopes still gets them published rather than dropped; Go's select
// has no case priority, so priority is implemented with an explicit
// non-blocking drain before observing workerStop.
func (s *Service) publisherWorker() {
	defer close(s.workerDone)

	for {
		select {
		case item := <-s.queue:
			s.publishItem(item)
			continue
		default:
		}

		select {
		case item := <-s.queue:
			s.publishItem(item)
		case <-s.workerStop:
			for {
				select {
				case item := <-s.queue:
					s.publishItem(item)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) publishItem(item queueItem) {
	defer s.metrics.PublishQueueDepth.Set(float64(len(s.queue)))

	switch item.kind {
	case kindDetection:
		if s.detPub.Publish(item.detection) {
			s.metrics.PublishAttempts.WithLabelValues("detection", "success").Inc()
		} else {
			s.metrics.PublishAttempts.WithLabelValues("detection", "failure").Inc()
		}
	case kindZoneEvent:
		if s.zonePub.Publish(item.zoneEvent) {
			s.metrics.PublishAttempts.WithLabelValues("zone_event", "success").Inc()
		} else {
			s.metrics.PublishAttempts.WithLabelValues("zone_event", "failure").Inc()
		}
	}
}

func buildDetectionEnvelope(sourceID int, frameID int64, ts time.Time, batch detection.Batch, classNames map[int]string) schema.DetectionEnvelope {
	dets := make([]schema.Detection, 0, len(batch))
	for _, d := range batch {
		trackerID := 0
		if d.TrackerID != nil {
			trackerID = *d.TrackerID
		}
		dets = append(dets, schema.Detection{
			TrackerID:  trackerID,
			Class:      detectionClassName(classNames, d),
			Confidence: d.Confidence,
			BBox: schema.BBox{
				X:      d.BBox.X,
				Y:      d.BBox.Y,
				Width:  d.BBox.Width,
				Height: d.BBox.Height,
			},
		})
	}

	return schema.DetectionEnvelope{
		SchemaVersion: schema.SchemaVersion,
		Timestamp:     ts.UTC().Format(time.RFC3339Nano),
		FrameID:       frameID,
		SourceID:      sourceID,
		Detections:    dets,
	}
}

// buildZoneEventEnvelope translates one frame's registry.Result map into
// the wire shape of spec.md §6. Polygon zones are reported every frame
// they are enabled (their "inside" state is continuous); line zones are
// reported only for frames in which a crossing actually happened, since
// "crossing" is a discrete event rather than a standing state.
//
// A single line zone can register both an "in" and an "out" crossing in
// the same frame (different trackers crossing in opposite directions),
// but ZoneEvent.CrossingDirection is singular per entry (spec.md §6). The
// resolution chosen here emits two separate ZoneEvent entries for that
// zone in that case, one per direction, each carrying only the tracker
// ids that crossed in that direction.
func buildZoneEventEnvelope(sourceID int, frameID int64, ts time.Time, results map[string]registry.Result, batch detection.Batch) schema.ZoneEventEnvelope {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]schema.ZoneEvent, 0, len(ids))
	for _, id := range ids {
		res := results[id]
		switch res.Kind {
		case registry.KindPolygon:
			count := res.Polygon.Stats.CurrentCount
			events = append(events, schema.ZoneEvent{
				ZoneID:      id,
				ZoneType:    schema.ZoneTypePolygon,
				EventType:   schema.EventTypeInside,
				Stats:       schema.ZoneStatsPayload{CurrentCount: intPtr(count)},
				TriggeredBy: triggeredBy(res.Polygon.Mask, batch),
			})

		case registry.KindLine:
			inIDs := triggeredBy(res.Line.CrossedIn, batch)
			outIDs := triggeredBy(res.Line.CrossedOut, batch)
			stats := schema.ZoneStatsPayload{
				TotalIn:  intPtr(res.Line.Stats.TotalEntered),
				TotalOut: intPtr(res.Line.Stats.TotalExited),
			}

			if len(inIDs) > 0 {
				events = append(events, schema.ZoneEvent{
					ZoneID:            id,
					ZoneType:          schema.ZoneTypeLine,
					EventType:         schema.EventTypeCrossing,
					Stats:             stats,
					TriggeredBy:       inIDs,
					CrossingDirection: schema.CrossingIn,
				})
			}
			if len(outIDs) > 0 {
				events = append(events, schema.ZoneEvent{
					ZoneID:            id,
					ZoneType:          schema.ZoneTypeLine,
					EventType:         schema.EventTypeCrossing,
					Stats:             stats,
					TriggeredBy:       outIDs,
					CrossingDirection: schema.CrossingOut,
				})
			}
		}
	}

	return schema.ZoneEventEnvelope{
		SchemaVersion: schema.SchemaVersion,
		Timestamp:     ts.UTC().Format(time.RFC3339Nano),
		FrameID:       frameID,
		SourceID:      sourceID,
		Zones:         events,
	}
}

// triggeredBy returns the tracker ids of every detection masked true.
// mask[i] corresponds to batch[i] (zonedetect guarantees matching
// lengths). A masked detection without a tracker id contributes no id:
// line-zone evaluation rejects such detections outright, but a polygon
// zone can mask one in, and it is skipped here.
func triggeredBy(mask []bool, batch detection.Batch) []int {
	ids := []int{}
	for i, in := range mask {
		if !in {
			continue
		}
		if batch[i].TrackerID != nil {
			ids = append(ids, *batch[i].TrackerID)
		}
	}
	return ids
}

func detectionClassName(classNames map[int]string, d detection.Detection) string {
	if d.ClassName != "" {
		return d.ClassName
	}
	if name, ok := classNames[d.ClassID]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", d.ClassID)
}

func intPtr(v int) *int { return &v }
