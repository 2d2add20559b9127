package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
	"gopkg.in/yaml.v3"
)

// Script describes a deterministic walkthrough plan for one target. Scripts
// back the development and test generator; a production deployment swaps in
// a model-backed Generator behind the same interface.
type Script struct {
	Title     string         `yaml:"title"`
	HandsOnID string         `yaml:"hands_on_id"`
	Context   *ScriptContext `yaml:"context"`
	Plan      []ScriptItem   `yaml:"plan"`
}

// ScriptContext mirrors the context event payload.
type ScriptContext struct {
	Position   string   `yaml:"position"`
	Upstream   []string `yaml:"upstream"`
	Downstream []string `yaml:"downstream"`
}

// ScriptItem is one plan entry. Exactly one field is set.
type ScriptItem struct {
	Section  *ScriptSection  `yaml:"section"`
	Choice   *ScriptChoice   `yaml:"choice"`
	Input    *ScriptInput    `yaml:"input"`
	Step     *ScriptStep     `yaml:"step"`
	Redirect *ScriptRedirect `yaml:"redirect"`
}

// ScriptSection streams one prose section.
type ScriptSection struct {
	ID     string   `yaml:"id"`
	Title  string   `yaml:"title"`
	Chunks []string `yaml:"chunks"`
}

// ScriptChoice suspends on an enumerated prompt.
type ScriptChoice struct {
	ID            string         `yaml:"id"`
	Question      string         `yaml:"question"`
	Options       []ScriptOption `yaml:"options"`
	AllowFreeText bool           `yaml:"allow_free_text"`
	AllowSkip     bool           `yaml:"allow_skip"`
}

// ScriptOption is one selectable choice entry.
type ScriptOption struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}

// ScriptInput suspends on a free-text prompt.
type ScriptInput struct {
	ID          string   `yaml:"id"`
	Question    string   `yaml:"question"`
	Suggestions []string `yaml:"suggestions"`
}

// ScriptStep streams one numbered step, optionally gated by a confirmation
// prompt before the plan continues.
type ScriptStep struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Chunks      []string `yaml:"chunks"`
	Confirm     bool     `yaml:"confirm"`
}

// ScriptRedirect hands the session off to open-ended dialogue.
type ScriptRedirect struct {
	Reason string `yaml:"reason"`
}

// LoadScript parses a walkthrough script from a YAML file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("parse script %s: %w", filepath.Base(path), err)
	}
	return script, nil
}

// ScriptGenerator is a Generator that replays per-target YAML scripts.
type ScriptGenerator struct {
	dir string
}

// NewScriptGenerator creates a generator reading <target_id>.yaml files
// from dir.
func NewScriptGenerator(dir string) *ScriptGenerator {
	return &ScriptGenerator{dir: dir}
}

// GenerateLeg walks the target's plan from the session's engine cursor,
// skipping items the session already holds, and emits until the plan
// suspends or completes.
func (g *ScriptGenerator) GenerateLeg(ctx context.Context, sess session.Session, sink Sink) error {
	script, err := g.script(sess.TargetID)
	if err != nil {
		return err
	}

	emit := func(evt event.Event) error { return sink.Emit(ctx, evt) }

	// A stop answer on a confirmation gate ends the plan at that step; the
	// walkthrough completes at the consumer's chosen stopping point.
	if stopDecided(sess) {
		err := emit(doneEvent(script, sess))
		if errors.Is(err, ErrSuspended) {
			return nil
		}
		return err
	}

	for i := sess.EngineCursor; i < len(script.Plan); i++ {
		if i == 0 && script.Context != nil {
			if err := emit(event.Context{
				TargetID:   sess.TargetID,
				Position:   script.Context.Position,
				Upstream:   script.Context.Upstream,
				Downstream: script.Context.Downstream,
			}); err != nil {
				return err
			}
		}

		item := script.Plan[i]
		switch {
		case item.Section != nil:
			if sec := findSection(sess, item.Section.ID); sec != nil && sec.Complete {
				if err := sink.SetCursor(ctx, i+1); err != nil {
					return err
				}
				continue
			}
			if err := g.emitSection(ctx, emit, *item.Section); err != nil {
				return err
			}
			if err := sink.SetCursor(ctx, i+1); err != nil {
				return err
			}

		case item.Choice != nil:
			if decided(sess, item.Choice.ID) {
				if err := sink.SetCursor(ctx, i+1); err != nil {
					return err
				}
				continue
			}
			if err := sink.SetCursor(ctx, i+1); err != nil {
				return err
			}
			err := emit(event.ChoiceRequired{
				PromptID:      item.Choice.ID,
				Question:      item.Choice.Question,
				Options:       scriptOptions(item.Choice.Options),
				AllowFreeText: item.Choice.AllowFreeText,
				AllowSkip:     item.Choice.AllowSkip,
			})
			if errors.Is(err, ErrSuspended) {
				return nil
			}
			if err != nil {
				return err
			}
			return nil

		case item.Input != nil:
			if decided(sess, item.Input.ID) {
				if err := sink.SetCursor(ctx, i+1); err != nil {
					return err
				}
				continue
			}
			if err := sink.SetCursor(ctx, i+1); err != nil {
				return err
			}
			err := emit(event.UserInputRequired{
				PromptID:    item.Input.ID,
				Question:    item.Input.Question,
				Suggestions: item.Input.Suggestions,
			})
			if errors.Is(err, ErrSuspended) {
				return nil
			}
			if err != nil {
				return err
			}
			return nil

		case item.Step != nil:
			ordinal := stepOrdinal(script.Plan, i)
			suspended, err := g.emitStep(ctx, sink, emit, sess, *item.Step, ordinal, i)
			if err != nil {
				return err
			}
			if suspended {
				return nil
			}

		case item.Redirect != nil:
			err := emit(event.RedirectToChat{Reason: item.Redirect.Reason})
			if errors.Is(err, ErrSuspended) {
				return nil
			}
			return err

		default:
			return fmt.Errorf("script plan item %d is empty", i)
		}
	}

	err = emit(doneEvent(script, sess))
	if errors.Is(err, ErrSuspended) {
		return nil
	}
	return err
}

func doneEvent(script Script, sess session.Session) event.Event {
	handsOnID := script.HandsOnID
	if handsOnID == "" {
		handsOnID = sess.TargetID
	}
	return event.Done{HandsOnID: handsOnID, SessionID: sess.ID}
}

func (g *ScriptGenerator) emitSection(ctx context.Context, emit func(event.Event) error, sec ScriptSection) error {
	if err := emit(event.SectionStart{Section: sec.ID, Title: sec.Title}); err != nil {
		return err
	}
	for _, chunk := range sec.Chunks {
		if err := emit(event.Chunk{Section: sec.ID, Text: chunk}); err != nil {
			return err
		}
	}
	return emit(event.SectionComplete{Section: sec.ID})
}

// emitStep streams one step. Completed steps are skipped except for a still
// unresolved confirmation gate; an interrupted step is regenerated from its
// start.
func (g *ScriptGenerator) emitStep(ctx context.Context, sink Sink, emit func(event.Event) error, sess session.Session, step ScriptStep, ordinal, planIndex int) (suspended bool, err error) {
	confirmID := stepConfirmPromptID(ordinal)

	if ordinal <= len(sess.Steps) && sess.Steps[ordinal-1].Completed {
		if err := sink.SetCursor(ctx, planIndex+1); err != nil {
			return false, err
		}
		if step.Confirm && !decided(sess, confirmID) {
			err := emit(event.StepConfirmationRequired{
				PromptID: confirmID,
				Step:     ordinal,
				Options:  stepConfirmOptions(),
			})
			if errors.Is(err, ErrSuspended) {
				return true, nil
			}
			return true, err
		}
		return false, nil
	}

	if err := emit(event.StepStart{Number: ordinal, Title: step.Title, Description: step.Description}); err != nil {
		return false, err
	}
	for _, chunk := range step.Chunks {
		if err := emit(event.Chunk{Step: ordinal, Text: chunk}); err != nil {
			return false, err
		}
	}
	if err := emit(event.StepComplete{Number: ordinal}); err != nil {
		return false, err
	}

	if err := sink.SetCursor(ctx, planIndex+1); err != nil {
		return false, err
	}
	if step.Confirm {
		err := emit(event.StepConfirmationRequired{
			PromptID: confirmID,
			Step:     ordinal,
			Options:  stepConfirmOptions(),
		})
		if errors.Is(err, ErrSuspended) {
			return true, nil
		}
		return true, err
	}
	return false, nil
}

func (g *ScriptGenerator) script(targetID string) (Script, error) {
	name := filepath.Base(strings.TrimSpace(targetID))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Script{}, fmt.Errorf("invalid target id %q", targetID)
	}
	return LoadScript(filepath.Join(g.dir, name+".yaml"))
}

// stepOrdinal numbers step items sequentially from 1 in plan order.
func stepOrdinal(plan []ScriptItem, index int) int {
	ordinal := 0
	for i := 0; i <= index; i++ {
		if plan[i].Step != nil {
			ordinal++
		}
	}
	return ordinal
}

const (
	stepConfirmContinue = "continue"
	stepConfirmStop     = "stop"
)

func stepConfirmPromptID(ordinal int) string {
	return fmt.Sprintf("step_%d_confirmation", ordinal)
}

func stepConfirmOptions() []event.Option {
	return []event.Option{
		{ID: stepConfirmContinue, Label: "Continue to the next step"},
		{ID: stepConfirmStop, Label: "Stop here"},
	}
}

// stopDecided reports whether any step confirmation gate was answered with
// the stop option.
func stopDecided(sess session.Session) bool {
	for _, d := range sess.Decisions {
		if d.ChoiceID == stepConfirmStop &&
			strings.HasPrefix(d.PromptID, "step_") &&
			strings.HasSuffix(d.PromptID, "_confirmation") {
			return true
		}
	}
	return false
}

func scriptOptions(options []ScriptOption) []event.Option {
	out := make([]event.Option, 0, len(options))
	for _, opt := range options {
		out = append(out, event.Option{ID: opt.ID, Label: opt.Label, Description: opt.Description})
	}
	return out
}

func findSection(sess session.Session, id string) *session.Section {
	for i := range sess.Sections {
		if sess.Sections[i].ID == id {
			return &sess.Sections[i]
		}
	}
	return nil
}

func decided(sess session.Session, promptID string) bool {
	for _, d := range sess.Decisions {
		if d.PromptID == promptID {
			return true
		}
	}
	return false
}
