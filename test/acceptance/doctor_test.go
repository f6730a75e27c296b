package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("runr doctor", func() {
	var tmpDir string
	var repoDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "runr-doctor-*")
		Expect(err).NotTo(HaveOccurred())

		repoDir = filepath.Join(tmpDir, "repo")
		runGit(tmpDir, "init", repoDir)
		runGit(repoDir, "checkout", "-b", "main")
		writeFile(filepath.Join(repoDir, "README.md"), "hello\n")
		runGit(repoDir, "add", "README.md")
		runGit(repoDir, "commit", "-m", "initial commit")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("exits 0 when every configured worker responds", func() {
		writeFile(filepath.Join(repoDir, "runr.yaml"), `
workers:
  planner:
    bin: "true"
`)
		out, err := runRunr(repoDir, "doctor")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("reachable"))
	})

	It("exits non-zero when a worker binary cannot be started", func() {
		writeFile(filepath.Join(repoDir, "runr.yaml"), `
workers:
  planner:
    bin: "/no/such/binary-runr-test"
`)
		out, err := runRunr(repoDir, "doctor")
		Expect(err).To(HaveOccurred(), "output: %s", string(out))
	})

	It("exits with the setup code when a worker reports an auth failure", func() {
		writeFile(filepath.Join(repoDir, "runr.yaml"), `
workers:
  planner:
    bin: sh
    args: ["-c", "echo 'Error: unauthorized' >&2; exit 1"]
`)
		out, err := runRunr(repoDir, "doctor")
		Expect(err).To(HaveOccurred(), "output: %s", string(out))

		exitErr, ok := asExitError(err)
		Expect(ok).To(BeTrue())
		Expect(exitErr).To(Equal(2))
	})
})
