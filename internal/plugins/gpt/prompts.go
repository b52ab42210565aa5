/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gpt

import (
	"fmt"
	"strings"
	"text/template"
)

var (
	logAnalysisPrompt = template.Must(template.New("analyze_log").Parse(`You are an expert DevOps engineer analyzing system logs. Please analyze the following log content and provide:

1. Summary of what happened
2. Potential issues or errors
3. Recommended actions
4. Severity level (Low/Medium/High/Critical)

Context: {{.Context}}

Log content:
{{.Logs}}

Please provide a structured analysis in JSON format with the following fields:
- summary: Brief description of events
- issues: Array of identified problems
- recommendations: Array of suggested actions
- severity: Severity level
- confidence: Confidence level (0-100)
`))

	fixSuggestionPrompt = template.Must(template.New("suggest_fix").Parse(`You are an expert DevOps engineer. Please provide a fix suggestion for the following issue:

Issue: {{.Issue}}
Context: {{.Context}}

Please provide:
1. Root cause analysis
2. Step-by-step fix instructions
3. Prevention measures
4. Commands to execute (if applicable)

Format your response as a structured JSON with:
- root_cause: Brief explanation
- steps: Array of fix steps
- commands: Array of commands to run
- prevention: Array of prevention measures
`))

	commandExplanationPrompt = template.Must(template.New("explain_command").Parse(`You are a DevOps expert. Please explain what this command does:

Command: {{.Command}}

Please provide:
1. What the command does
2. Each parameter/flag explanation
3. Common use cases
4. Safety considerations

Format as JSON with:
- purpose: What it does
- parameters: Object with parameter explanations
- use_cases: Array of common uses
- safety_notes: Array of safety considerations
`))

	scriptGenerationPrompt = template.Must(template.New("generate_script").Parse(`You are an expert DevOps engineer. Please generate a {{.Language}} script for the following task:

Task: {{.Task}}

Requirements:
1. Include proper error handling
2. Add comments explaining each step
3. Make it production-ready
4. Include logging
5. Follow best practices

Please provide only the script code, no explanations.
`))
)

func render(tmpl *template.Template, data map[string]string) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
