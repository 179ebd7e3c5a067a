// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/pkg/types"
)

var (
	entryValidator *validator.Validate
	validatorOnce  sync.Once
)

// Validator returns the shared validator with the notblank rule registered
// and json tag names used in error fields.
func Validator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
			panic(fmt.Sprintf("registering notblank: %v", err))
		}
		entryValidator = v
	})
	return entryValidator
}

// Validate drops every entry missing text or author and returns how many
// were dropped. Each drop is logged with an error wrapping
// types.ErrValidation; none is fatal. References to dropped entries are
// removed so the remaining result stays consistent.
func Validate(result *types.AnalysisResult, logger *zap.Logger) int {
	logger = logging.OrNop(logger)
	result.Normalize()
	v := Validator()

	droppedIDs := map[string]bool{}
	check := func(kind types.EntityKind, e types.EntryBase) bool {
		err := v.Struct(e)
		if err == nil {
			return true
		}
		droppedIDs[e.ID] = true
		logger.Warn("dropping invalid entry",
			zap.String("kind", string(kind)),
			zap.String("id", e.ID),
			zap.Int("chunk", e.Chunk),
			zap.Error(fmt.Errorf("%w: %s", types.ErrValidation, describe(err))),
		)
		return false
	}

	result.Questions = slices.DeleteFunc(result.Questions, func(q types.QuestionEntry) bool {
		return !check(types.KindQuestion, q.EntryBase)
	})
	result.Answers = slices.DeleteFunc(result.Answers, func(a types.AnswerEntry) bool {
		return !check(types.KindAnswer, a.EntryBase)
	})
	result.Notes = slices.DeleteFunc(result.Notes, func(n types.NoteEntry) bool {
		return !check(types.KindNote, n.EntryBase)
	})

	if len(droppedIDs) == 0 {
		return 0
	}
	for i := range result.Answers {
		if droppedIDs[result.Answers[i].QuestionID] {
			result.Answers[i].QuestionID = ""
		}
	}
	for i := range result.Notes {
		if droppedIDs[result.Notes[i].QuestionID] {
			result.Notes[i].QuestionID = ""
		}
	}
	for i := range result.Questions {
		q := &result.Questions[i]
		q.AnsweredBy = slices.DeleteFunc(q.AnsweredBy, func(id string) bool { return droppedIDs[id] })
		q.Answered = len(q.AnsweredBy) > 0
		if len(q.AnsweredBy) == 0 {
			q.AnsweredBy = nil
		}
	}
	return len(droppedIDs)
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
