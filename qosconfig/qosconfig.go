// Package qosconfig loads TopicAttributes and ReaderQos from JSON
// files, grounded on group.Description's load path: a
// json.Decoder with DisallowUnknownFields so a typo in a config file
// fails loudly instead of silently keeping a zero-value default, run
// through the qos package's consistency checks before being handed
// back to the caller.
package qosconfig

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jech/rtpsreader/qos"
	"github.com/jech/rtpsreader/rtps"
)

// topicFile is the on-disk shape of a topic attributes file. Field
// names match the wire vocabulary of HistoryQos/ResourceLimitsQos
// rather than the Go-internal TopicAttributes layout, so config files
// read the way the DDS XML QoS profiles they replace did.
type topicFile struct {
	Name                  string `json:"name"`
	DataTypeName          string `json:"dataTypeName"`
	WithKey               bool   `json:"withKey"`
	HistoryKind           string `json:"historyKind"`
	HistoryDepth          int    `json:"historyDepth"`
	MaxSamples            int    `json:"maxSamples"`
	MaxInstances          int    `json:"maxInstances"`
	MaxSamplesPerInstance int    `json:"maxSamplesPerInstance"`
}

// LoadTopicAttributes reads and validates a topic attributes file. It
// returns an error for an internally inconsistent QoS combination; an
// under-provisioned-but-legal combination is logged as a warning, not
// rejected, matching CheckTopic's soft-failure contract.
func LoadTopicAttributes(path string) (*rtps.TopicAttributes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tf topicFile
	d := json.NewDecoder(f)
	d.DisallowUnknownFields()
	if err := d.Decode(&tf); err != nil {
		return nil, fmt.Errorf("qosconfig: decoding %v: %w", path, err)
	}

	kind := rtps.NoKey
	if tf.WithKey {
		kind = rtps.WithKey
	}
	historyKind := qos.KeepLast
	switch tf.HistoryKind {
	case "", "KEEP_LAST":
		historyKind = qos.KeepLast
	case "KEEP_ALL":
		historyKind = qos.KeepAll
	default:
		return nil, fmt.Errorf("qosconfig: %v: unknown historyKind %q", path, tf.HistoryKind)
	}

	attrs := &rtps.TopicAttributes{
		Kind:         kind,
		Name:         tf.Name,
		DataTypeName: tf.DataTypeName,
		History: qos.History{
			Kind:  historyKind,
			Depth: tf.HistoryDepth,
		},
		ResourceLimits: qos.ResourceLimits{
			MaxSamples:            tf.MaxSamples,
			MaxInstances:          tf.MaxInstances,
			MaxSamplesPerInstance: tf.MaxSamplesPerInstance,
		},
	}

	underProvisioned, err := qos.CheckTopic(attrs.Kind == rtps.WithKey, attrs.History, attrs.ResourceLimits)
	if err != nil {
		return nil, fmt.Errorf("qosconfig: %v: %w", path, err)
	}
	if underProvisioned {
		log.Printf("qosconfig: %v: max_samples_per_instance * max_instances exceeds max_samples", path)
	}

	return attrs, nil
}

// readerFile is the on-disk shape of a ReaderQos file.
type readerFile struct {
	OwnershipKind         string `json:"ownershipKind"`
	OwnershipStrength     int32  `json:"ownershipStrength"`
	DeadlinePeriodMs      int64  `json:"deadlinePeriodMs"`
	LifespanDurationMs    int64  `json:"lifespanDurationMs"`
	ReliabilityKind       string `json:"reliabilityKind"`
	LivelinessKind        string `json:"livelinessKind"`
	LivelinessLeaseMs     int64  `json:"livelinessLeaseMs"`
	LatencyBudgetMs       int64  `json:"latencyBudgetMs"`
	Partition             []string `json:"partition"`
}

// LoadReaderQos reads and validates a ReaderQos file.
func LoadReaderQos(path string) (*qos.ReaderQos, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rf readerFile
	d := json.NewDecoder(f)
	d.DisallowUnknownFields()
	if err := d.Decode(&rf); err != nil {
		return nil, fmt.Errorf("qosconfig: decoding %v: %w", path, err)
	}

	ownershipKind := qos.Shared
	if rf.OwnershipKind == "EXCLUSIVE" {
		ownershipKind = qos.Exclusive
	}
	reliabilityKind := qos.BestEffort
	if rf.ReliabilityKind == "RELIABLE" {
		reliabilityKind = qos.Reliable
	}
	livelinessKind := qos.Automatic
	switch rf.LivelinessKind {
	case "", "AUTOMATIC":
		livelinessKind = qos.Automatic
	case "MANUAL_BY_PARTICIPANT":
		livelinessKind = qos.ManualByParticipant
	case "MANUAL_BY_TOPIC":
		livelinessKind = qos.ManualByTopic
	default:
		return nil, fmt.Errorf("qosconfig: %v: unknown livelinessKind %q", path, rf.LivelinessKind)
	}

	rq := qos.ReaderQos{
		Ownership:   qos.Ownership{Kind: ownershipKind, Strength: rf.OwnershipStrength},
		Deadline:    qos.Deadline{Period: time.Duration(rf.DeadlinePeriodMs) * time.Millisecond},
		Lifespan:    qos.Lifespan{Duration: time.Duration(rf.LifespanDurationMs) * time.Millisecond},
		Reliability: qos.Reliability{Kind: reliabilityKind},
		Liveliness: qos.Liveliness{
			Kind:          livelinessKind,
			LeaseDuration: time.Duration(rf.LivelinessLeaseMs) * time.Millisecond,
		},
		Partition:     rf.Partition,
		LatencyBudget: time.Duration(rf.LatencyBudgetMs) * time.Millisecond,
	}

	if err := qos.CheckQos(rq); err != nil {
		return nil, fmt.Errorf("qosconfig: %v: %w", path, err)
	}
	return &rq, nil
}
