// Package pipeline runs completion requests through an ordered list of
// stages that share one CompletionContext.
//
// # Stages
//
//   - deserialize: validate the body, assign a suggestion id, classify the prompt
//   - preprocess: validate task fragments, merge additional context,
//     normalize indentation, anonymize
//   - inference: resolve the model and call the provider
//   - postprocess: repair, lint and re-indent the prediction
//   - response: build the client payload
//
// The executor stops at the first stage error. Completions.Complete emits
// exactly one completion telemetry event per call whatever the outcome.
//
// # Errors
//
// Stages return *domain.APIError values. Provider failures are translated
// by MapInferenceError so handlers only ever see API errors.
package pipeline
