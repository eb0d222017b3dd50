package batch

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/contratta/contratta/internal/config"
)

const fallbackMemoryGB = 8.0

// workerCount sizes the pool: explicit config wins; otherwise it is derived
// from the memory budget, since a recognition-heavy task can hold a rendered
// page and a tesseract process at once.
func workerCount(cfg *config.Config) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}

	budget := cfg.MemoryBudgetGB
	if budget <= 0 {
		budget = availableMemoryGB()
	}
	perTask := cfg.TextTaskGB
	if cfg.EnableOCR {
		perTask = cfg.OCRTaskGB
	}
	if perTask <= 0 {
		perTask = 0.25
	}

	n := int((budget - cfg.ReservedGB) / perTask)
	if n < 1 {
		n = 1
	}
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	return n
}

// availableMemoryGB reads MemAvailable from /proc/meminfo, falling back to a
// conservative guess on hosts without it.
func availableMemoryGB() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallbackMemoryGB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			break
		}
		return kb / (1024 * 1024)
	}
	return fallbackMemoryGB
}
