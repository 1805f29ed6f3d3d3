package common

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is what the common steps need from the scenario context.
type TestContext interface {
	ActAs(alias string)
	Address(alias string) string
	Status() int
	Body() []byte
	ResponseField(path string) (any, error)
}

// RegisterSteps registers caller and assertion steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I am "([^"]*)"$`, steps.iAm)
	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, steps.fieldShouldBeBool)
	ctx.Step(`^the response field "([^"]*)" should be (\d+)$`, steps.fieldShouldBeNumber)
	ctx.Step(`^the response field "([^"]*)" should be the address of "([^"]*)"$`, steps.fieldShouldBeAddress)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) iAm(ctx context.Context, alias string) error {
	s.tc.ActAs(alias)
	return nil
}

func (s *commonSteps) notAuthenticated(ctx context.Context) error {
	s.tc.ActAs("")
	return nil
}

func (s *commonSteps) statusShouldBe(ctx context.Context, want int) error {
	if got := s.tc.Status(); got != want {
		return fmt.Errorf("expected status %d, got %d (body: %s)", want, got, s.tc.Body())
	}
	return nil
}

func (s *commonSteps) errorShouldBe(ctx context.Context, want string) error {
	return s.fieldShouldBe(ctx, "error", want)
}

func (s *commonSteps) fieldShouldBe(ctx context.Context, field, want string) error {
	got, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if str := Format(got); str != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, str)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeBool(ctx context.Context, field, want string) error {
	return s.fieldShouldBe(ctx, field, want)
}

func (s *commonSteps) fieldShouldBeNumber(ctx context.Context, field, want string) error {
	return s.fieldShouldBe(ctx, field, want)
}

func (s *commonSteps) fieldShouldBeAddress(ctx context.Context, field, alias string) error {
	return s.fieldShouldBe(ctx, field, strings.ToLower(s.tc.Address(alias)))
}

// Format renders a decoded JSON value the way features spell it.
func Format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}
