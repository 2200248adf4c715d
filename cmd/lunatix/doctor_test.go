package main

import (
	"testing"

	"github.com/lunatix-dev/lunatix/internal/doctor"
	"github.com/lunatix-dev/lunatix/internal/testutil"
)

func TestDoctorOutput_AllPass_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Config", Status: doctor.StatusPass, Message: "/home/dev/.config/lunatix/config.yaml"},
		{Name: "Sidecar Binary", Status: doctor.StatusPass, Message: "cpp-server at /opt/lunatix/cpp-server (port 8080)"},
		{Name: "Backend", Status: doctor.StatusPass, Message: "http://localhost:8080 v0.4.2, up 2m0s (3ms)"},
		{Name: "Shell Bridge", Status: doctor.StatusPass, Message: "standalone mode, http://localhost:8080 (sidecar pid 4242)"},
		{Name: "Version", Status: doctor.StatusPass, Message: "v1.0.0"},
	}

	out, buf := testWriter()
	renderDoctor(out, results)

	testutil.AssertGolden(t, buf.String(), "doctor_all_pass.golden")
}

func TestDoctorOutput_Mixed_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Config", Status: doctor.StatusPass, Message: "Defaults (no config file)", Detail: "/home/dev/.config/lunatix/config.yaml"},
		{Name: "Sidecar Binary", Status: doctor.StatusWarn, Message: "cpp-server not found (standalone mode unavailable)", Detail: "Install it next to lunatix, add it to PATH, or set sidecar.path"},
		{Name: "Backend", Status: doctor.StatusFail, Message: "https://api.example.com", Detail: "connection refused"},
		{Name: "Shell Bridge", Status: doctor.StatusWarn, Message: "Not running at 127.0.0.1:17380", Detail: "Start it with 'lunatix serve'"},
		{Name: "Version", Status: doctor.StatusWarn, Message: "Development build"},
	}

	out, buf := testWriter()
	renderDoctor(out, results)

	testutil.AssertGolden(t, buf.String(), "doctor_mixed.golden")
}
