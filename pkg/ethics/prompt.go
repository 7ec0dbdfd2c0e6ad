package ethics

import (
	"fmt"

	"github.com/neuroguard/neuroguard/pkg/record"
)

var frameworkQuestions = map[string]string{
	record.FrameworkUtilitarian:   "Does the action maximize overall wellbeing and minimize harm for everyone affected?",
	record.FrameworkDeontological: "Does the action respect duties, rights, consent and rules regardless of outcome?",
	record.FrameworkVirtue:        "Is the action what an honest, prudent and compassionate agent would do?",
}

func buildPrompt(framework, action string) string {
	return fmt.Sprintf(`You are assessing a proposed action from the %s perspective.
%s

Proposed action: %s

Score the action from 0.0 (clearly unethical) to 1.0 (clearly ethical).
Respond with a JSON object only: {"score": <number between 0 and 1>, "rationale": "<one or two sentences>"}`,
		framework, frameworkQuestions[framework], action)
}
