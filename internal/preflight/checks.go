package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"workshop/internal/config"
	"workshop/internal/fleet"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFleet verifies the inventory produced at least one slot.
func CheckFleet(slots []fleet.Slot) Result {
	const name = "Fleet"
	if len(slots) == 0 {
		return Result{Name: name, Detail: "inventory lists no workers"}
	}
	local := 0
	for _, slot := range slots {
		if slot.Driver == fleet.DriverLocal {
			local++
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d workers (%d local)", len(slots), local)}
}

// CheckKeyFile verifies an ssh slot's private key is readable. The result is
// advisory: a broken key takes out only that slot.
func CheckKeyFile(slot fleet.Slot) Result {
	name := "SSH key " + slot.Label()
	if err := unix.Access(slot.KeyPath, unix.R_OK); err != nil {
		return Result{Name: name, Advisory: true, Detail: fmt.Sprintf("%s (error: %v)", slot.KeyPath, err)}
	}
	return Result{Name: name, Passed: true, Advisory: true, Detail: slot.KeyPath}
}

// CheckMirror verifies the S3 mirror settings are complete.
func CheckMirror(storage config.Storage) Result {
	const name = "S3 mirror"
	switch {
	case strings.TrimSpace(storage.S3Bucket) == "":
		return Result{Name: name, Detail: "missing bucket"}
	case (storage.S3AccessKey == "") != (storage.S3SecretKey == ""):
		return Result{Name: name, Detail: "access key and secret key must be set together"}
	}
	target := "s3://" + storage.S3Bucket
	if prefix := strings.Trim(storage.S3Prefix, "/"); prefix != "" {
		target += "/" + prefix
	}
	return Result{Name: name, Passed: true, Detail: target}
}
