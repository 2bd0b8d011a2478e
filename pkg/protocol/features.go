// SPDX-License-Identifier: Apache-2.0

package protocol

// Feature names the capabilities that vary across protocol revisions.
type Feature string

// Features recognized by the matrix.
const (
	FeatureTools              Feature = "tools"
	FeaturePrompts            Feature = "prompts"
	FeatureResources          Feature = "resources"
	FeatureSampling           Feature = "sampling"
	FeatureRoots              Feature = "roots"
	FeaturePing               Feature = "ping"
	FeatureProgress           Feature = "progress"
	FeatureProgressMessage    Feature = "progress_message"
	FeatureToolAnnotations    Feature = "tool_annotations"
	FeatureAudioContent       Feature = "audio_content"
	FeatureCompletions        Feature = "completions"
	FeatureBatching           Feature = "json_rpc_batching"
	FeatureElicitation        Feature = "elicitation"
	FeatureStructuredOutput   Feature = "structured_tool_outputs"
	FeatureResourceLinks      Feature = "resource_links"
	FeatureResourceIndicators Feature = "oauth_resource_indicators"
)

// featureMatrix encodes which features each revision carries. Batching is
// deliberately disabled again on 2025-06-18: the newest revision removed
// JSON-RPC batching from the transport.
var featureMatrix = map[string]map[Feature]bool{
	V20241105: {
		FeatureTools:     true,
		FeaturePrompts:   true,
		FeatureResources: true,
		FeatureSampling:  true,
		FeatureRoots:     true,
		FeaturePing:      true,
		FeatureProgress:  true,
	},
	V20250326: {
		FeatureTools:           true,
		FeaturePrompts:         true,
		FeatureResources:       true,
		FeatureSampling:        true,
		FeatureRoots:           true,
		FeaturePing:            true,
		FeatureProgress:        true,
		FeatureProgressMessage: true,
		FeatureToolAnnotations: true,
		FeatureAudioContent:    true,
		FeatureCompletions:     true,
		FeatureBatching:        true,
	},
	V20250618: {
		FeatureTools:              true,
		FeaturePrompts:            true,
		FeatureResources:          true,
		FeatureSampling:           true,
		FeatureRoots:              true,
		FeaturePing:               true,
		FeatureProgress:           true,
		FeatureProgressMessage:    true,
		FeatureToolAnnotations:    true,
		FeatureAudioContent:       true,
		FeatureCompletions:        true,
		FeatureElicitation:        true,
		FeatureStructuredOutput:   true,
		FeatureResourceLinks:      true,
		FeatureResourceIndicators: true,
	},
}

// HasFeature reports whether the given revision carries the feature.
// Unknown revisions carry nothing.
func HasFeature(version string, f Feature) bool {
	return featureMatrix[version][f]
}

// BatchingSupported reports whether JSON-RPC batching is allowed on the
// given revision.
func BatchingSupported(version string) bool {
	return HasFeature(version, FeatureBatching)
}

// methodFeatures maps each dispatchable method to the feature that gates
// it. Methods absent from the map (initialize) bypass gating.
var methodFeatures = map[string]Feature{
	"ping":                     FeaturePing,
	"tools/list":               FeatureTools,
	"tools/call":               FeatureTools,
	"prompts/list":             FeaturePrompts,
	"prompts/get":              FeaturePrompts,
	"resources/list":           FeatureResources,
	"resources/read":           FeatureResources,
	"resources/templates/list": FeatureResources,
	"completions/complete":     FeatureCompletions,
	"sampling/createMessage":   FeatureSampling,
	"roots/list":               FeatureRoots,
	"roots/read":               FeatureRoots,
	"roots/listDirectory":      FeatureRoots,
	"elicitation/create":       FeatureElicitation,
	"notifications/initialized": FeaturePing,
	"notifications/cancelled":   FeaturePing,
	"notifications/progress":    FeatureProgress,
}

// MethodAllowed reports whether the method is known and enabled on the
// given revision.
func MethodAllowed(method, version string) bool {
	f, ok := methodFeatures[method]
	if !ok {
		return false
	}
	return HasFeature(version, f)
}

// KnownMethod reports whether the dispatcher has a route for the method
// on any revision.
func KnownMethod(method string) bool {
	_, ok := methodFeatures[method]
	return ok
}

// Capabilities builds the capabilities object advertised by initialize
// for the negotiated revision. Each supported feature becomes a key whose
// value advertises its optional sub-capabilities.
func Capabilities(version string) map[string]any {
	caps := map[string]any{}
	if HasFeature(version, FeatureTools) {
		caps["tools"] = map[string]any{"listChanged": true}
	}
	if HasFeature(version, FeaturePrompts) {
		caps["prompts"] = map[string]any{"listChanged": true}
	}
	if HasFeature(version, FeatureResources) {
		caps["resources"] = map[string]any{"subscribe": false, "listChanged": true}
	}
	if HasFeature(version, FeatureSampling) {
		caps["sampling"] = map[string]any{}
	}
	if HasFeature(version, FeatureRoots) {
		caps["roots"] = map[string]any{"listChanged": true}
	}
	if HasFeature(version, FeatureCompletions) {
		caps["completions"] = map[string]any{}
	}
	if HasFeature(version, FeatureElicitation) {
		caps["elicitation"] = map[string]any{}
	}
	return caps
}

// FeatureList enumerates the features of a revision for discovery
// metadata, in a stable order.
func FeatureList(version string) []string {
	ordered := []Feature{
		FeatureTools, FeaturePrompts, FeatureResources, FeatureSampling,
		FeatureRoots, FeaturePing, FeatureProgress, FeatureProgressMessage,
		FeatureToolAnnotations, FeatureAudioContent, FeatureCompletions,
		FeatureBatching, FeatureElicitation, FeatureStructuredOutput,
		FeatureResourceLinks, FeatureResourceIndicators,
	}
	var out []string
	for _, f := range ordered {
		if HasFeature(version, f) {
			out = append(out, string(f))
		}
	}
	return out
}
