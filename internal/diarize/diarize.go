// Package diarize attributes spans of audio to speakers, either through an
// external diarization engine or by clustering acoustic features locally.
package diarize

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/credential"
	"github.com/snarg/scribe-engine/internal/errs"
	"github.com/snarg/scribe-engine/internal/transcript"
)

var (
	// ErrInsufficientAudio means the audio is shorter than one analysis window.
	ErrInsufficientAudio = errors.New("audio too short to diarize")
	// ErrAuthentication means the engine credential is missing or rejected.
	ErrAuthentication = errors.New("diarization engine rejected credential")
	// ErrNetwork means the engine could not be reached.
	ErrNetwork = errors.New("diarization engine unreachable")
)

// Engine is an external diarization service.
type Engine interface {
	Diarize(ctx context.Context, audioPath string, cred credential.Token) ([]transcript.Turn, error)
	Name() string
}

// Strategy selects how a single request is diarized. The concrete types
// are None, Fallback and Advanced.
type Strategy interface {
	Name() string
	strategy()
}

// None skips diarization; utterances carry no speaker label.
type None struct{}

// Fallback clusters features locally without any network access.
type Fallback struct{}

// Advanced calls the external engine with the given credential.
type Advanced struct {
	Credential credential.Token
}

func (None) Name() string     { return "none" }
func (Fallback) Name() string { return "fallback" }
func (Advanced) Name() string { return "advanced" }

func (None) strategy()     {}
func (Fallback) strategy() {}
func (Advanced) strategy() {}

// Resolve picks the strategy for one request. The advanced engine is only
// chosen when it is configured and a credential is present.
func Resolve(requested bool, engineConfigured bool, cred credential.Token) Strategy {
	switch {
	case !requested:
		return None{}
	case engineConfigured && cred.IsSet():
		return Advanced{Credential: cred}
	default:
		return Fallback{}
	}
}

// Result is the outcome of Runner.Run.
type Result struct {
	Turns []transcript.Turn
	// Used names the strategy that actually produced Turns.
	Used string
	// Degraded holds the advanced engine error when Run fell back.
	Degraded error
}

// Runner executes a Strategy, degrading from the advanced engine to local
// clustering when the engine fails.
type Runner struct {
	Engine            Engine // nil when no advanced engine is configured
	Local             *Clustering
	FallbackOnNetwork bool
	Log               zerolog.Logger
}

// Run diarizes audioPath with s. Advanced engine authentication failures
// always fall back to local clustering; network failures fall back only
// when FallbackOnNetwork is set. Audio too short for clustering yields a
// single speaker turn.
func (r *Runner) Run(ctx context.Context, s Strategy, audioPath string) (Result, error) {
	switch s := s.(type) {
	case None:
		return Result{Used: s.Name()}, nil

	case Advanced:
		if r.Engine == nil {
			return r.local(ctx, audioPath, fmt.Errorf("%w: no engine configured", ErrAuthentication))
		}
		turns, err := r.Engine.Diarize(ctx, audioPath, s.Credential)
		if err == nil {
			return Result{Turns: turns, Used: s.Name()}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, ErrNetwork) && !r.FallbackOnNetwork {
			return Result{}, errs.Engine("diarize", audioPath, err)
		}
		r.Log.Warn().Err(err).Str("engine", r.Engine.Name()).Msg("advanced diarization failed, using local clustering")
		return r.local(ctx, audioPath, err)

	case Fallback:
		return r.local(ctx, audioPath, nil)

	default:
		return Result{}, fmt.Errorf("unknown diarization strategy %T", s)
	}
}

func (r *Runner) local(ctx context.Context, audioPath string, degraded error) (Result, error) {
	if r.Local == nil {
		return Result{}, errs.Engine("diarize", audioPath, errors.New("local clustering not configured"))
	}
	res := Result{Used: Fallback{}.Name(), Degraded: degraded}
	turns, dur, err := r.Local.diarizeFile(ctx, audioPath)
	switch {
	case errors.Is(err, ErrInsufficientAudio):
		r.Log.Debug().Float64("duration", dur).Msg("audio shorter than one window, single speaker")
		if dur > 0 {
			res.Turns = []transcript.Turn{{Start: 0, End: dur, Speaker: 0}}
		}
		return res, nil
	case err != nil:
		return Result{}, errs.Engine("diarize", audioPath, err)
	}
	res.Turns = turns
	return res, nil
}
