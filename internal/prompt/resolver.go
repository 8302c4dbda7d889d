// Package prompt resolves outcome prompt templates against guest responses
// and reference media. Templates are plain text with two mention forms:
//
//	@{step:<stepId>}         substituted with the guest's recorded response
//	@{media:<displayName>}   substituted with an uploaded reference asset
//
// Every image a mention pulls in is collected into an ordered attachment
// list for the generation call. Unresolvable mentions are hard errors, never
// dropped: a missing mention changes generation semantics.
package prompt

import (
	"regexp"
	"strings"

	"outcome-engine/internal/domain"
)

var mentionPattern = regexp.MustCompile(`@\{(step|media):([^}]+)\}`)

// MediaRef is one image attachment produced by resolution, in first-mention
// order.
type MediaRef struct {
	Name    string
	AssetID string
	Path    string
	URL     string
}

// Resolved is the final prompt text plus its ordered attachments.
type Resolved struct {
	Text      string
	MediaRefs []MediaRef
}

// Resolve substitutes every mention in template. Step mentions take the
// response's prompt fragment (choice steps) or raw value, and attach the
// response's asset when one is recorded. Media mentions are matched by
// display name, case-insensitively, and always attach. Attachments are
// de-duplicated by asset identity, keeping the earliest position.
func Resolve(template string, responses map[string]domain.StepResponse, refMedia []domain.RefMedia) (*Resolved, error) {
	byName := make(map[string]domain.RefMedia, len(refMedia))
	for _, m := range refMedia {
		byName[strings.ToLower(strings.TrimSpace(m.DisplayName))] = m
	}

	var (
		refs   []MediaRef
		seen   = make(map[string]struct{})
		resErr error
	)
	attach := func(ref MediaRef) {
		key := ref.AssetID
		if key == "" {
			key = ref.Path
		}
		if key == "" {
			key = ref.URL
		}
		if _, dup := seen[key]; dup || key == "" {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}

	text := mentionPattern.ReplaceAllStringFunc(template, func(raw string) string {
		if resErr != nil {
			return raw
		}
		groups := mentionPattern.FindStringSubmatch(raw)
		kind, name := groups[1], strings.TrimSpace(groups[2])
		switch kind {
		case "step":
			resp, ok := responses[name]
			if !ok {
				resErr = domain.Errf(domain.ErrorKindInvalidInput, "prompt mentions step %q which has no response", name)
				return raw
			}
			if resp.AssetPath != "" || resp.AssetID != "" {
				attach(MediaRef{Name: name, AssetID: resp.AssetID, Path: resp.AssetPath})
			}
			if resp.Kind == domain.ResponseKindChoice && resp.PromptFragment != "" {
				return resp.PromptFragment
			}
			return resp.Value
		case "media":
			media, ok := byName[strings.ToLower(name)]
			if !ok {
				resErr = domain.Errf(domain.ErrorKindInvalidInput, "prompt mentions reference media %q which does not exist", name)
				return raw
			}
			attach(MediaRef{Name: media.DisplayName, AssetID: media.MediaAssetID, Path: media.FilePath, URL: media.URL})
			return media.DisplayName
		}
		return raw
	})
	if resErr != nil {
		return nil, resErr
	}
	return &Resolved{Text: text, MediaRefs: refs}, nil
}
