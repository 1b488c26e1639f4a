package driveops

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tonimelisma/onedrive-uploader/internal/graph"
)

// Outcome is the verdict on one chunk response.
type Outcome int

const (
	// OutcomeRejected: the chunk was not accepted (transport error, timeout,
	// error status, or a response of unexpected shape).
	OutcomeRejected Outcome = iota
	// OutcomeAccepted: the chunk was stored and the server expects more.
	OutcomeAccepted
	// OutcomeComplete: the server assembled the whole file.
	OutcomeComplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeComplete:
		return "complete"
	default:
		return "rejected"
	}
}

// Classification is a classifier verdict plus what was learned from the
// response body.
type Classification struct {
	Outcome Outcome
	// NextExpected is the first byte the server still wants, or -1.
	NextExpected int64
	ItemID       string
	ItemName     string
	// QuickXorHash is the drive's content hash of a completed file, if
	// the response carried one.
	QuickXorHash string
	Reason       string
}

// ResponseClassifier interprets the result of a chunk PUT. err is the
// transport error, in which case resp is nil.
type ResponseClassifier interface {
	Classify(resp *graph.ChunkResponse, err error) Classification
}

// GraphClassifier is the ResponseClassifier for Microsoft Graph upload
// sessions: a 200/201 driveItem with createdBy marks completion, a 202 with
// nextExpectedRanges marks progress, everything else is a rejection.
type GraphClassifier struct{}

type chunkResponseBody struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	CreatedBy          *json.RawMessage `json:"createdBy"`
	NextExpectedRanges []string         `json:"nextExpectedRanges"`
	File               *struct {
		Hashes struct {
			QuickXorHash string `json:"quickXorHash"`
		} `json:"hashes"`
	} `json:"file"`
}

// Classify implements ResponseClassifier.
func (GraphClassifier) Classify(resp *graph.ChunkResponse, err error) Classification {
	rejected := Classification{Outcome: OutcomeRejected, NextExpected: -1}

	if err != nil {
		rejected.Reason = "no response"
		if errors.Is(err, ErrChunkStalled) {
			rejected.Reason = "stalled"
		}

		return rejected
	}

	if resp == nil {
		rejected.Reason = "empty response"
		return rejected
	}

	var body chunkResponseBody
	if len(resp.Body) > 0 {
		if decErr := json.Unmarshal(resp.Body, &body); decErr != nil {
			body = chunkResponseBody{}
		}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if body.CreatedBy == nil {
			rejected.Reason = "completion response without createdBy"
			return rejected
		}

		verdict := Classification{
			Outcome:      OutcomeComplete,
			NextExpected: -1,
			ItemID:       body.ID,
			ItemName:     body.Name,
		}
		if body.File != nil {
			verdict.QuickXorHash = body.File.Hashes.QuickXorHash
		}

		return verdict

	case http.StatusAccepted:
		if len(body.NextExpectedRanges) == 0 {
			rejected.Reason = "accepted response without nextExpectedRanges"
			return rejected
		}

		next, parseErr := ParseNextExpected(body.NextExpectedRanges)
		if parseErr != nil {
			rejected.Reason = parseErr.Error()
			return rejected
		}

		return Classification{Outcome: OutcomeAccepted, NextExpected: next}

	default:
		rejected.Reason = http.StatusText(resp.StatusCode)
		return rejected
	}
}

// ParseNextExpected returns the start of the first range in a
// nextExpectedRanges list ("12345-" or "12345-67890").
func ParseNextExpected(ranges []string) (int64, error) {
	if len(ranges) == 0 {
		return -1, fmt.Errorf("driveops: no expected ranges")
	}

	first := strings.TrimSpace(ranges[0])
	startStr, _, _ := strings.Cut(first, "-")

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return -1, fmt.Errorf("driveops: malformed expected range %q", first)
	}

	return start, nil
}
