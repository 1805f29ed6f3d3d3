package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cucumber/godog"

	"soulid/e2e/steps/common"
)

// TestContext is what the identity steps need from the scenario context.
type TestContext interface {
	ActAs(alias string)
	Address(alias string) string
	Name(name string) string
	RememberIdentity(alias, identityID string)
	IdentityOf(alias string) (string, error)
	GET(path string) error
	POST(path string, body any) error
	PUT(path string, body any) error
	DELETE(path string) error
	Status() int
	Body() []byte
	ResponseField(path string) (any, error)
}

// RegisterSteps registers identity and name steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &identitySteps{tc: tc}

	// Setup
	ctx.Step(`^"([^"]*)" holds an identity$`, steps.holdsIdentity)
	ctx.Step(`^"([^"]*)" holds an identity named "([^"]*)"$`, steps.holdsNamedIdentity)

	// Mutations
	ctx.Step(`^I mint an identity for "([^"]*)"$`, steps.mint)
	ctx.Step(`^I mint an identity for "([^"]*)" named "([^"]*)" for (\d+) years?$`, steps.mintNamed)
	ctx.Step(`^I burn the identity of "([^"]*)"$`, steps.burn)
	ctx.Step(`^I register the name "([^"]*)" for "([^"]*)" for (\d+) years?$`, steps.registerName)
	ctx.Step(`^I rename the identity of "([^"]*)" to "([^"]*)"$`, steps.rename)
	ctx.Step(`^I extend the name of "([^"]*)" by (\d+) years?$`, steps.extend)
	ctx.Step(`^I set the metadata URI of "([^"]*)" to "([^"]*)"$`, steps.setMetadataURI)
	ctx.Step(`^I transfer the operator role to "([^"]*)"$`, steps.transferOperator)

	// Lookups
	ctx.Step(`^I look up the name "([^"]*)"$`, steps.lookUpName)
	ctx.Step(`^I check whether the name "([^"]*)" is available$`, steps.checkAvailable)
	ctx.Step(`^I request the URI of "([^"]*)"$`, steps.uriOfHolder)
	ctx.Step(`^I request the URI of the name "([^"]*)"$`, steps.uriOfName)
	ctx.Step(`^I request the balance of "([^"]*)"$`, steps.balanceOf)

	// Assertions
	ctx.Step(`^the name should belong to "([^"]*)"$`, steps.nameBelongsTo)
	ctx.Step(`^the resolved name should be "([^"]*)"$`, steps.resolvedNameIs)
	ctx.Step(`^the URI should point at the identity of "([^"]*)"$`, steps.uriPointsAt)
}

type identitySteps struct {
	tc TestContext
}

// asOperator runs fn as the operator and restores the previous caller.
func (s *identitySteps) asOperator(fn func() error) error {
	s.tc.ActAs("operator")
	defer s.tc.ActAs("")
	return fn()
}

func (s *identitySteps) holdsIdentity(ctx context.Context, alias string) error {
	return s.asOperator(func() error {
		if err := s.mint(ctx, alias); err != nil {
			return err
		}
		return s.expectStatus(http.StatusCreated)
	})
}

func (s *identitySteps) holdsNamedIdentity(ctx context.Context, alias, name string) error {
	return s.asOperator(func() error {
		if err := s.mintNamed(ctx, alias, name, 1); err != nil {
			return err
		}
		return s.expectStatus(http.StatusCreated)
	})
}

func (s *identitySteps) mint(ctx context.Context, alias string) error {
	return s.doMint(alias, map[string]any{"holder": s.tc.Address(alias)})
}

func (s *identitySteps) mintNamed(ctx context.Context, alias, name string, years int) error {
	return s.doMint(alias, map[string]any{
		"holder": s.tc.Address(alias),
		"name":   s.tc.Name(name),
		"years":  years,
	})
}

func (s *identitySteps) doMint(alias string, body map[string]any) error {
	if err := s.tc.POST("/v1/identities", body); err != nil {
		return err
	}
	if s.tc.Status() != http.StatusCreated {
		return nil
	}
	identityID, err := s.tc.ResponseField("identity.id")
	if err != nil {
		return err
	}
	s.tc.RememberIdentity(alias, common.Format(identityID))
	return nil
}

func (s *identitySteps) identityPath(alias, suffix string) (string, error) {
	identityID, err := s.tc.IdentityOf(alias)
	if err != nil {
		return "", err
	}
	return "/v1/identities/" + identityID + suffix, nil
}

func (s *identitySteps) burn(ctx context.Context, alias string) error {
	path, err := s.identityPath(alias, "")
	if err != nil {
		return err
	}
	return s.tc.DELETE(path)
}

func (s *identitySteps) registerName(ctx context.Context, name, alias string, years int) error {
	path, err := s.identityPath(alias, "/name")
	if err != nil {
		return err
	}
	return s.tc.POST(path, map[string]any{"name": s.tc.Name(name), "years": years})
}

func (s *identitySteps) rename(ctx context.Context, alias, name string) error {
	path, err := s.identityPath(alias, "/name")
	if err != nil {
		return err
	}
	return s.tc.PUT(path, map[string]any{"name": s.tc.Name(name)})
}

func (s *identitySteps) extend(ctx context.Context, alias string, years int) error {
	path, err := s.identityPath(alias, "/name/extend")
	if err != nil {
		return err
	}
	return s.tc.POST(path, map[string]any{"years": years})
}

func (s *identitySteps) setMetadataURI(ctx context.Context, alias, metadataURI string) error {
	path, err := s.identityPath(alias, "/name/metadata")
	if err != nil {
		return err
	}
	return s.tc.PUT(path, map[string]any{"metadata_uri": metadataURI})
}

func (s *identitySteps) transferOperator(ctx context.Context, alias string) error {
	return s.tc.PUT("/v1/registry/operator", map[string]any{"operator": s.tc.Address(alias)})
}

func (s *identitySteps) lookUpName(ctx context.Context, name string) error {
	return s.tc.GET("/v1/names/" + url.PathEscape(s.tc.Name(name)))
}

func (s *identitySteps) checkAvailable(ctx context.Context, name string) error {
	return s.tc.GET("/v1/names/" + url.PathEscape(s.tc.Name(name)) + "/available")
}

func (s *identitySteps) uriOfHolder(ctx context.Context, alias string) error {
	return s.tc.GET("/v1/holders/" + s.tc.Address(alias) + "/uri")
}

func (s *identitySteps) uriOfName(ctx context.Context, name string) error {
	return s.tc.GET("/v1/names/" + url.PathEscape(s.tc.Name(name)) + "/uri")
}

func (s *identitySteps) balanceOf(ctx context.Context, alias string) error {
	return s.tc.GET("/v1/holders/" + s.tc.Address(alias) + "/balance")
}

func (s *identitySteps) nameBelongsTo(ctx context.Context, alias string) error {
	want, err := s.tc.IdentityOf(alias)
	if err != nil {
		return err
	}
	got, err := s.tc.ResponseField("identity_id")
	if err != nil {
		return err
	}
	if common.Format(got) != want {
		return fmt.Errorf("expected the name to belong to identity %s, got %v", want, got)
	}
	return nil
}

// resolvedNameIs compares case-insensitively and ignores the extension, which
// depends on the server's default registry.
func (s *identitySteps) resolvedNameIs(ctx context.Context, name string) error {
	got, err := s.tc.ResponseField("name")
	if err != nil {
		return err
	}
	resolved := strings.ToLower(common.Format(got))
	want := strings.ToLower(s.tc.Name(name)) + "."
	if !strings.HasPrefix(resolved, want) {
		return fmt.Errorf("expected name %s<extension>, got %s", want, resolved)
	}
	return nil
}

func (s *identitySteps) uriPointsAt(ctx context.Context, alias string) error {
	identityID, err := s.tc.IdentityOf(alias)
	if err != nil {
		return err
	}
	got, err := s.tc.ResponseField("uri")
	if err != nil {
		return err
	}
	if uri := common.Format(got); !strings.HasSuffix(uri, "/identity/"+identityID) {
		return fmt.Errorf("expected URI ending in /identity/%s, got %s", identityID, uri)
	}
	return nil
}

func (s *identitySteps) expectStatus(want int) error {
	if got := s.tc.Status(); got != want {
		return fmt.Errorf("expected status %d, got %d (body: %s)", want, got, s.tc.Body())
	}
	return nil
}
