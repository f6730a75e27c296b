package acceptance_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("runr run", func() {
	var tmpDir string
	var repoDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "runr-test-*")
		Expect(err).NotTo(HaveOccurred())

		repoDir = filepath.Join(tmpDir, "repo")
		runGit(tmpDir, "init", repoDir)
		runGit(repoDir, "checkout", "-b", "main")
		writeFile(filepath.Join(repoDir, "README.md"), "hello\n")
		runGit(repoDir, "add", "README.md")
		runGit(repoDir, "commit", "-m", "initial commit")

		writeFile(filepath.Join(repoDir, "runr.yaml"), `
workflow:
  profile: solo

workers:
  planner:
    bin: sh
    args: ["-c", "printf 'BEGIN_JSON\n{\"milestones\":[{\"goal\":\"add a file\",\"done_checks\":[],\"risk_level\":\"low\",\"files_expected\":[\"output.txt\"]}]}\nEND_JSON\n'"]
  implementer:
    bin: sh
    args: ["-c", "echo hello > output.txt; printf 'BEGIN_JSON\n{\"status\":\"ok\",\"handoff_memo\":\"wrote output.txt\"}\nEND_JSON\n'"]
`)
		writeFile(filepath.Join(repoDir, "task.md"), "Add a file called output.txt containing a greeting.\n")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("completes a single-milestone run and writes terminal artifacts", func() {
		out, err := runRunr(repoDir, "run", "--task", "task.md")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("complete"))

		runID := onlyRunID(repoDir)

		content, err := os.ReadFile(filepath.Join(repoDir, "output.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("hello"))

		receiptPath := filepath.Join(repoDir, ".runr", "runs", runID, "receipt.json")
		receiptData, err := os.ReadFile(receiptPath)
		Expect(err).NotTo(HaveOccurred())
		var receipt map[string]interface{}
		Expect(json.Unmarshal(receiptData, &receipt)).To(Succeed())
		Expect(receipt["terminal_state"]).To(Equal("stopped"))

		branches := runGitOutput(repoDir, "branch", "--list", "run/"+runID)
		Expect(branches).To(ContainSubstring("run/" + runID))
	})

	It("reports status and a JSON report for the completed run", func() {
		out, err := runRunr(repoDir, "run", "--task", "task.md")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		runID := onlyRunID(repoDir)

		statusOut, err := runRunr(repoDir, "status", runID)
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(statusOut))
		Expect(string(statusOut)).To(ContainSubstring(runID))

		reportOut, err := runRunr(repoDir, "report", runID, "--json")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(reportOut))
		var report struct {
			KPIs struct {
				RunID           string `json:"run_id"`
				MilestonesDone  int    `json:"milestones_done"`
				MilestonesTotal int    `json:"milestones_total"`
			} `json:"kpis"`
		}
		Expect(json.Unmarshal(reportOut, &report)).To(Succeed())
		Expect(report.KPIs.RunID).To(Equal(runID))
		Expect(report.KPIs.MilestonesDone).To(Equal(1))
		Expect(report.KPIs.MilestonesTotal).To(Equal(1))
	})

	It("bundles a deterministic evidence packet", func() {
		out, err := runRunr(repoDir, "run", "--task", "task.md")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		runID := onlyRunID(repoDir)

		first, err := runRunr(repoDir, "bundle", runID)
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(first))
		second, err := runRunr(repoDir, "bundle", runID)
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(second))
		Expect(string(first)).To(Equal(string(second)))
		Expect(string(first)).To(ContainSubstring(runID))
	})

	It("submits the checkpoint onto the target branch", func() {
		out, err := runRunr(repoDir, "run", "--task", "task.md")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		runID := onlyRunID(repoDir)

		startingBranch := strings.TrimSpace(runGitOutput(repoDir, "rev-parse", "--abbrev-ref", "HEAD"))

		submitOut, err := runRunr(repoDir, "submit", runID, "--to", "main")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(submitOut))
		Expect(string(submitOut)).To(ContainSubstring("submitted"))

		restored := strings.TrimSpace(runGitOutput(repoDir, "rev-parse", "--abbrev-ref", "HEAD"))
		Expect(restored).To(Equal(startingBranch))

		mainLog := runGitOutput(repoDir, "log", "main", "--format=%s", "-3")
		Expect(mainLog).To(ContainSubstring("checkpoint"))
	})

	It("removes stopped runs older than the gc threshold", func() {
		out, err := runRunr(repoDir, "run", "--task", "task.md")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		runID := onlyRunID(repoDir)

		gcOut, err := runRunr(repoDir, "gc", "--older-than", "0s")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(gcOut))
		Expect(string(gcOut)).To(ContainSubstring("removed"))

		_, statErr := os.Stat(filepath.Join(repoDir, ".runr", "runs", runID))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})
})

// onlyRunID returns the single run directory name under the repo's
// runs root, failing the test if there isn't exactly one.
func onlyRunID(repoDir string) string {
	entries, err := os.ReadDir(filepath.Join(repoDir, ".runr", "runs"))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, entries).To(HaveLen(1))
	return entries[0].Name()
}
