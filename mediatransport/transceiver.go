// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/mediatransport/lib/eventloop"
)

// MediaKind is the media type of a transceiver.
type MediaKind int

const (
	Audio MediaKind = iota
	Video
)

func (k MediaKind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("MediaKind(%d)", int(k))
	}
}

// Session identifies the session a call acts for. It is passed
// explicitly to every call that needs it.
type Session struct {
	Handle string
	Logger *slog.Logger
}

// Transceiver is the media side of one negotiated m-section: a send
// pipeline, a receive pipeline, and the conduit between them and the
// network. Every method is called on the control loop.
type Transceiver interface {
	Kind() MediaKind

	// TransportID is the transport the transceiver is bound to, or ""
	// when it has none.
	TransportID() string

	HasSendTrack(trackID string) bool
	HasReceiveTrack(trackID string) bool

	// SendTrackHasPeerIdentity reports whether the send track is
	// isolated to a specific peer identity.
	SendTrackHasPeerIdentity() bool

	// UpdateTransport rebinds the pipelines to the transport's flows.
	// rtcp is nil when RTCP is muxed onto rtp; both are nil when the
	// transceiver has no transport.
	UpdateTransport(rtp, rtcp *Flow)

	// UpdateConduit applies the negotiated codec configuration.
	UpdateConduit(session Session) error

	// SyncWithMatchingVideo lip-syncs an audio transceiver with the
	// video transceiver carrying the same stream.
	SyncWithMatchingVideo(session Session, transceivers []Transceiver) error

	UpdatePrincipal(principal string)
	UpdateSinkIdentity(trackID, principal, sinkIdentity string)

	// Shutdown stops both pipelines and fires their ended events.
	Shutdown()
}

// TransceiverSet is the ordered list of a session's transceivers. It
// belongs to the control loop.
type TransceiverSet struct {
	control      *eventloop.Loop
	transceivers []Transceiver
}

// NewTransceiverSet returns an empty set owned by control.
func NewTransceiverSet(control *eventloop.Loop) *TransceiverSet {
	return &TransceiverSet{control: control}
}

// Add appends transceiver.
func (s *TransceiverSet) Add(transceiver Transceiver) {
	s.control.AssertOn()
	s.transceivers = append(s.transceivers, transceiver)
}

// All returns the transceivers in the order they were added.
func (s *TransceiverSet) All() []Transceiver {
	s.control.AssertOn()
	return append([]Transceiver(nil), s.transceivers...)
}

// Len returns the number of transceivers.
func (s *TransceiverSet) Len() int {
	s.control.AssertOn()
	return len(s.transceivers)
}

// WithSendTrack returns the transceivers sending trackID.
func (s *TransceiverSet) WithSendTrack(trackID string) []Transceiver {
	s.control.AssertOn()
	var matching []Transceiver
	for _, transceiver := range s.transceivers {
		if transceiver.HasSendTrack(trackID) {
			matching = append(matching, transceiver)
		}
	}
	return matching
}

// WithReceiveTrack returns the transceivers receiving trackID.
func (s *TransceiverSet) WithReceiveTrack(trackID string) []Transceiver {
	s.control.AssertOn()
	var matching []Transceiver
	for _, transceiver := range s.transceivers {
		if transceiver.HasReceiveTrack(trackID) {
			matching = append(matching, transceiver)
		}
	}
	return matching
}

// TransportIDForReceiveTrack returns the transport of the first
// transceiver receiving trackID, or "".
func (s *TransceiverSet) TransportIDForReceiveTrack(trackID string) string {
	s.control.AssertOn()
	for _, transceiver := range s.transceivers {
		if transceiver.HasReceiveTrack(trackID) {
			return transceiver.TransportID()
		}
	}
	return ""
}

// AnyLocalTrackHasPeerIdentity reports whether any send track is
// isolated to a peer identity. Once one is, the session requests
// privacy for all of its media.
func (s *TransceiverSet) AnyLocalTrackHasPeerIdentity() bool {
	s.control.AssertOn()
	for _, transceiver := range s.transceivers {
		if transceiver.SendTrackHasPeerIdentity() {
			return true
		}
	}
	return false
}

// UpdatePrincipal applies principal to every receive track.
func (s *TransceiverSet) UpdatePrincipal(principal string) {
	s.control.AssertOn()
	for _, transceiver := range s.transceivers {
		transceiver.UpdatePrincipal(principal)
	}
}

// UpdateSinkIdentity tells every transceiver who may consume trackID.
func (s *TransceiverSet) UpdateSinkIdentity(trackID, principal, sinkIdentity string) {
	s.control.AssertOn()
	for _, transceiver := range s.transceivers {
		transceiver.UpdateSinkIdentity(trackID, principal, sinkIdentity)
	}
}

// UpdateMediaPipelines updates every conduit and syncs each audio
// transceiver with its matching video. The first failure stops the
// pass.
func (s *TransceiverSet) UpdateMediaPipelines(session Session) error {
	s.control.AssertOn()
	for _, transceiver := range s.transceivers {
		if err := transceiver.UpdateConduit(session); err != nil {
			return fmt.Errorf("updating %s conduit on %s: %w", transceiver.Kind(), transceiver.TransportID(), err)
		}
		if transceiver.Kind() == Video {
			continue
		}
		if err := transceiver.SyncWithMatchingVideo(session, s.transceivers); err != nil {
			return fmt.Errorf("syncing audio on %s: %w", transceiver.TransportID(), err)
		}
	}
	return nil
}

// Shutdown stops every transceiver and empties the set.
func (s *TransceiverSet) Shutdown() {
	s.control.AssertOn()
	for _, transceiver := range s.transceivers {
		transceiver.Shutdown()
	}
	s.transceivers = nil
}
