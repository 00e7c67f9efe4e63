package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/nicferr/anacsync/internal/runner"
	"github.com/nicferr/anacsync/internal/utils"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // teal
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))            // purple
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // cornflower blue
)

var StyleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"arrow":   "→",
	"bullet":  "•",
}

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}
func PrintError(text string) {
	fmt.Println(errorStyle.Render(text))
}
func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}
func PrintPending(text string) {
	fmt.Println(pendingStyle.Render(text))
}
func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}
func PrintDetail(text string) {
	fmt.Println(detailStyle.Render(text))
}
func PrintHeader(text string) {
	fmt.Println(headerStyle.Render(text))
}

// PrintSummary renders the run summary the run command finishes with.
func PrintSummary(s runner.Summary) {
	PrintHeader("Download summary")
	fmt.Printf("  %s %d total, %d succeeded, %d skipped, %d failed\n",
		StyleSymbols["bullet"], s.Total, s.Succeeded, s.Skipped, s.Failed)
	fmt.Printf("  %s %s transferred\n", StyleSymbols["bullet"], utils.FormatBytes(uint64(s.Bytes)))
	for name, count := range s.ByStrategy {
		fmt.Printf("  %s %s: %d\n", StyleSymbols["arrow"], name, count)
	}
	for _, res := range s.Results {
		if res.Outcome.OK() {
			continue
		}
		PrintError(fmt.Sprintf("  %s %s: %v", StyleSymbols["fail"], res.Item.DestPath, res.Outcome.Err))
	}
}
