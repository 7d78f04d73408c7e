// Package prompts holds the instructions sent to the reasoning service.
//
// Prompt text is Go code rather than a config file: it is program logic
// that the response classifier depends on (the plan JSON shape), and
// tests can check the two stay in agreement. Operators who need a
// different instruction point system_prompt_file at their own text.
package prompts
