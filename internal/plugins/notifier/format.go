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

package notifier

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	colorInfo    = 0x3498db
	colorWarning = 0xf1c40f
	colorError   = 0xe74c3c
)

func markdown(heading string, msg Message) string {
	var b strings.Builder
	b.WriteString(heading + "\n\n")
	fmt.Fprintf(&b, "**Level:** %s\n", strings.ToUpper(msg.Level))
	fmt.Fprintf(&b, "**Time:** %s\n\n", msg.Time.Format(timeLayout))
	b.WriteString(msg.Text + "\n")
	if msg.Details != "" {
		fmt.Fprintf(&b, "\n**Details:**\n%s\n", msg.Details)
	}
	return b.String()
}

// feishuContent renders one paragraph per field in the post rich text format.
func feishuContent(msg Message) [][]map[string]string {
	rows := [][2]string{
		{"Level", strings.ToUpper(msg.Level)},
		{"Time", msg.Time.Format(timeLayout)},
		{"Message", msg.Text},
	}
	if msg.Details != "" {
		rows = append(rows, [2]string{"Details", msg.Details})
	}

	content := make([][]map[string]string, 0, len(rows))
	for _, row := range rows {
		content = append(content, []map[string]string{
			{"tag": "text", "text": row[0] + ": " + row[1]},
		})
	}
	return content
}

func discordEmbed(msg Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Text,
		Color:       levelColor(msg.Level),
		Timestamp:   msg.Time.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Level", Value: strings.ToUpper(msg.Level), Inline: true},
		},
	}
	if msg.Details != "" {
		details := msg.Details
		if len(details) > 1024 {
			details = details[:1021] + "..."
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Details", Value: details})
	}
	return embed
}

func levelColor(level string) int {
	switch strings.ToLower(level) {
	case "error", "fatal", "critical":
		return colorError
	case "warn", "warning":
		return colorWarning
	default:
		return colorInfo
	}
}
