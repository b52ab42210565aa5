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

package output

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/internal/plugins/gpt"
	"github.com/deckhouse/kops-agent/internal/plugins/jenkins"
	"github.com/deckhouse/kops-agent/internal/plugins/k8s"
	"github.com/deckhouse/kops-agent/internal/plugins/logs"
	"github.com/deckhouse/kops-agent/internal/plugins/notifier"
	"github.com/deckhouse/kops-agent/internal/plugins/sshremote"
	"github.com/deckhouse/kops-agent/internal/plugins/systemcheck"
	"github.com/deckhouse/kops-agent/internal/runner"
)

// Usage above these percentages is flagged in system reports.
const (
	cpuWarnPercent    = 80
	memoryWarnPercent = 85
	diskWarnPercent   = 90
)

// Text renders v for a human reader. Unknown values are printed as YAML.
func (p *Printer) Text(v any) string {
	var sb strings.Builder
	p.render(&sb, v)
	return sb.String()
}

func (p *Printer) render(sb *strings.Builder, v any) {
	switch r := v.(type) {
	case nil:
	case *runner.Summary:
		p.summary(sb, r)
	case []plugin.Info:
		p.pluginTable(sb, r)
	case plugin.Info:
		p.pluginTable(sb, []plugin.Info{r})
	case systemcheck.Report:
		p.systemReport(sb, r)
	case systemcheck.CPU:
		p.cpu(sb, r)
	case systemcheck.Memory:
		p.memory(sb, r)
	case map[string]systemcheck.Disk:
		p.disks(sb, r, "")
	case map[string]systemcheck.Service:
		p.services(sb, r, "")
	case *sshremote.Result:
		p.sshResult(sb, r)
	case []k8s.Pod:
		p.pods(sb, r)
	case []k8s.Node:
		p.nodes(sb, r)
	case []k8s.Service:
		p.k8sServices(sb, r)
	case *k8s.Logs:
		fmt.Fprintf(sb, "%s\n", p.pal.cyan(fmt.Sprintf("📜 Logs of %s/%s", r.Namespace, r.Pod)))
		block(sb, r.Logs)
	case *k8s.ClusterStatus:
		p.clusterStatus(sb, r)
	case *gpt.LogAnalysis:
		p.gptAnswer(sb, "🤖 GPT Analysis", r.Analysis, r.Model, r.TokensUsed)
	case *gpt.FixSuggestion:
		p.gptAnswer(sb, "🤖 Suggested Fix", r.Suggestion, r.Model, r.TokensUsed)
	case *gpt.CommandExplanation:
		p.gptAnswer(sb, "🤖 Command Explanation", r.Explanation, r.Model, r.TokensUsed)
	case *gpt.GeneratedScript:
		p.gptAnswer(sb, "🤖 Generated "+r.Language+" Script", r.Script, r.Model, r.TokensUsed)
	case *logs.Analysis:
		p.logAnalysis(sb, r)
	case *notifier.Delivery:
		p.delivery(sb, r)
	case *jenkins.BuildResult:
		p.buildResult(sb, r)
	case bool:
		fmt.Fprintf(sb, "%s %t\n", p.mark(r), r)
	case string:
		block(sb, r)
	default:
		p.fallback(sb, v)
	}
}

func (p *Printer) summary(sb *strings.Builder, s *runner.Summary) {
	if s.Script {
		fmt.Fprintf(sb, "%s\n", p.pal.cyan("📜 Script Result"))
		sb.WriteString(strings.Repeat("=", 30) + "\n")
		p.render(sb, s.Output)
		return
	}

	failed := s.Failed()
	heading := fmt.Sprintf("📦 %d task(s), %d failed", len(s.Results), failed)
	if failed > 0 {
		heading = p.pal.yellow(heading)
	} else {
		heading = p.pal.green(heading)
	}
	fmt.Fprintf(sb, "%s\n", heading)

	for i, res := range s.Results {
		fmt.Fprintf(sb, "\n%s %s %s\n", p.pal.bold(fmt.Sprintf("── Task %d:", i+1)), res.Task.Type, p.mark(!res.Failed()))
		if res.Failed() {
			fmt.Fprintf(sb, "%s\n", p.pal.red("error: "+res.Err.Error()))
			continue
		}
		p.render(sb, res.Value)
	}
}

func (p *Printer) pluginTable(sb *strings.Builder, infos []plugin.Info) {
	w := tabwriter.NewWriter(sb, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tAVAILABLE\tACTIONS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.Name,
			info.Version,
			p.mark(info.Available),
			strings.Join(info.Actions, ","),
			info.Description,
		)
	}
	_ = w.Flush()
}

func (p *Printer) systemReport(sb *strings.Builder, r systemcheck.Report) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("🖥️  System Status Report"))
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	p.cpu(sb, r.CPU)
	p.memory(sb, r.Memory)
	if len(r.Disk) > 0 {
		p.disks(sb, r.Disk, "\n💾 Disk Usage:")
	}
	if len(r.Services) > 0 {
		p.services(sb, r.Services, "\n🔧 Services:")
	}
}

func (p *Printer) cpu(sb *strings.Builder, c systemcheck.CPU) {
	fmt.Fprintf(sb, "%s CPU Usage: %s%% (%d cores, load %.2f %.2f %.2f)\n",
		p.threshold(c.UsagePercent, cpuWarnPercent),
		percent(c.UsagePercent),
		c.Cores,
		c.LoadAverage[0], c.LoadAverage[1], c.LoadAverage[2],
	)
}

func (p *Printer) memory(sb *strings.Builder, m systemcheck.Memory) {
	fmt.Fprintf(sb, "%s Memory Usage: %s%% (%s/%s)\n",
		p.threshold(m.UsagePercent, memoryWarnPercent),
		percent(m.UsagePercent),
		humanize.IBytes(m.UsedKB*1024),
		humanize.IBytes(m.TotalKB*1024),
	)
}

func (p *Printer) disks(sb *strings.Builder, disks map[string]systemcheck.Disk, heading string) {
	if heading != "" {
		fmt.Fprintf(sb, "%s\n", heading)
	}
	for _, mount := range sortedKeys(disks) {
		d := disks[mount]
		fmt.Fprintf(sb, "  %s %s: %s%% (%s/%s)\n",
			p.threshold(d.UsagePercent, diskWarnPercent),
			mount,
			percent(d.UsagePercent),
			humanize.IBytes(d.UsedBytes),
			humanize.IBytes(d.TotalBytes),
		)
	}
}

func (p *Printer) services(sb *strings.Builder, services map[string]systemcheck.Service, heading string) {
	if heading != "" {
		fmt.Fprintf(sb, "%s\n", heading)
	}
	for _, name := range sortedKeys(services) {
		s := services[name]
		fmt.Fprintf(sb, "  %s %s: %s\n", p.mark(s.Active), name, s.Status)
	}
}

func (p *Printer) sshResult(sb *strings.Builder, r *sshremote.Result) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("🔗 SSH Execution Result"))
	sb.WriteString(strings.Repeat("=", 30) + "\n")
	fmt.Fprintf(sb, "Host: %s\n", r.Host)
	fmt.Fprintf(sb, "Command: %s\n", r.Command)
	fmt.Fprintf(sb, "Exit Code: %d\n", r.ExitCode)
	fmt.Fprintf(sb, "Success: %s\n", p.mark(r.Success))
	if r.Stdout != "" {
		sb.WriteString("\nOutput:\n")
		block(sb, r.Stdout)
	}
	if r.Stderr != "" {
		sb.WriteString("\nErrors:\n")
		block(sb, p.pal.red(r.Stderr))
	}
}

func (p *Printer) pods(sb *strings.Builder, pods []k8s.Pod) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("🐳 Kubernetes Pods"))
	p.table(sb, []string{"Name", "Namespace", "Status", "Ready", "Restarts", "Age"},
		lo.Map(pods, func(pod k8s.Pod, _ int) []string {
			return []string{
				pod.Name,
				pod.Namespace,
				p.phase(pod.Status),
				p.mark(pod.Ready) + " " + pod.Containers,
				strconv.Itoa(pod.RestartCount),
				pod.Age,
			}
		}))
}

func (p *Printer) nodes(sb *strings.Builder, nodes []k8s.Node) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("🖥️  Kubernetes Nodes"))
	p.table(sb, []string{"Name", "Status", "CPU", "Memory", "Age"},
		lo.Map(nodes, func(node k8s.Node, _ int) []string {
			status := p.mark(false) + " Not Ready"
			if node.Status == "True" {
				status = p.mark(true) + " Ready"
			}
			return []string{
				node.Name,
				status,
				lo.ValueOr(node.Capacity, "cpu", "N/A"),
				lo.ValueOr(node.Capacity, "memory", "N/A"),
				node.Age,
			}
		}))
}

func (p *Printer) k8sServices(sb *strings.Builder, services []k8s.Service) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("🔌 Kubernetes Services"))
	p.table(sb, []string{"Name", "Namespace", "Type", "Cluster IP", "Ports"},
		lo.Map(services, func(svc k8s.Service, _ int) []string {
			ports := lo.Map(svc.Ports, func(port k8s.ServicePort, _ int) string {
				return fmt.Sprintf("%d:%s/%s", port.Port, port.TargetPort, port.Protocol)
			})
			return []string{svc.Name, svc.Namespace, svc.Type, svc.ClusterIP, strings.Join(ports, ",")}
		}))
}

func (p *Printer) clusterStatus(sb *strings.Builder, s *k8s.ClusterStatus) {
	yellow := p.pal.yellow
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("☸️  Cluster Status"))
	if s.Server != "" {
		fmt.Fprintf(sb, "%s Server: %s\n", yellow("├"), s.Server)
	}
	fmt.Fprintf(sb, "%s Version: %s\n", yellow("├"), s.Version)
	fmt.Fprintf(sb, "%s Nodes: %d/%d ready\n", yellow("├"), s.Nodes.Ready, s.Nodes.Total)
	fmt.Fprintf(sb, "%s Pods: %d total, %d running, %d pending, %d failed\n", yellow("└"),
		s.Pods.Total, s.Pods.Running, s.Pods.Pending, s.Pods.Failed)
}

func (p *Printer) gptAnswer(sb *strings.Builder, heading, text, model string, tokens int) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan(heading))
	sb.WriteString(strings.Repeat("=", 20) + "\n")
	block(sb, text)
	fmt.Fprintf(sb, "\nModel: %s\nTokens used: %d\n", model, tokens)
}

func (p *Printer) logAnalysis(sb *strings.Builder, a *logs.Analysis) {
	fmt.Fprintf(sb, "%s\n", p.pal.cyan("📋 Log Analysis Report"))
	sb.WriteString(strings.Repeat("=", 30) + "\n")
	fmt.Fprintf(sb, "File: %s\n", a.File)
	fmt.Fprintf(sb, "Total lines: %d\n", a.TotalLines)
	sb.WriteString("\nPattern Analysis:\n")
	for _, name := range sortedKeys(a.Analysis) {
		count := a.Analysis[name].Count
		line := fmt.Sprintf("  %s: %d matches", name, count)
		if count > 0 {
			line = p.pal.yellow(line)
		}
		fmt.Fprintf(sb, "%s\n", line)
	}
}

func (p *Printer) delivery(sb *strings.Builder, d *notifier.Delivery) {
	if !d.Success {
		fmt.Fprintf(sb, "%s\n", p.pal.red(fmt.Sprintf("❌ Notification to %s failed: %s", d.Platform, d.Error)))
		return
	}
	fmt.Fprintf(sb, "%s\n", p.pal.green("✅ Notification sent successfully to "+d.Platform))
}

func (p *Printer) buildResult(sb *strings.Builder, b *jenkins.BuildResult) {
	if !b.Success {
		fmt.Fprintf(sb, "%s\n", p.pal.red(fmt.Sprintf("❌ Build of %s was not triggered: %s", b.JobName, b.Error)))
		return
	}
	fmt.Fprintf(sb, "%s\n", p.pal.green("✅ Build of "+b.JobName+" triggered"))
	if b.Queue != "" {
		fmt.Fprintf(sb, "Queue: %s\n", b.Queue)
	}
}

func (p *Printer) fallback(sb *strings.Builder, v any) {
	if err := New(sb, FormatYAML).yaml(v); err != nil {
		fmt.Fprintf(sb, "%v\n", v)
	}
}

func (p *Printer) table(sb *strings.Builder, header []string, rows [][]string) {
	table := tablewriter.NewWriter(sb)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

func (p *Printer) mark(ok bool) string {
	if ok {
		return p.pal.green("✅")
	}
	return p.pal.red("❌")
}

func (p *Printer) threshold(value, limit float64) string {
	if value > limit {
		return p.pal.yellow("⚠️")
	}
	return p.pal.green("✅")
}

func (p *Printer) phase(status string) string {
	switch strings.ToLower(status) {
	case "running", "succeeded":
		return p.pal.green(status)
	case "failed", "unknown":
		return p.pal.red(status)
	case "pending":
		return p.pal.yellow(status)
	default:
		return status
	}
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func block(sb *strings.Builder, text string) {
	sb.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		sb.WriteString("\n")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
