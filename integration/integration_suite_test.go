// Package integration contains end-to-end tests for queueworker.
// The consumer flow tests run in process on the memory broker; the HTTP
// tests target a running queueworker and are skipped when none is reachable.
package integration

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queueworker Integration Suite")
}
