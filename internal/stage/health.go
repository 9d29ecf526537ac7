package stage

import (
	"context"
	"fmt"

	"workshop/internal/worker"
)

// Health summarizes whether a worker can run a stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// CheckWorker checks the docker daemon and each planned stage image on a
// worker. Images that are not pulled yet are reported but docker pulls them on
// first use, so only an unreachable daemon is marked not ready.
func CheckWorker(ctx context.Context, exec Executor, docker string, plan []Spec) []Health {
	quoted := worker.Quote(docker)
	res, err := exec.RunTolerant(ctx, quoted+" version --format '{{.Server.Version}}'")
	if err != nil {
		return []Health{Unhealthy("docker", err.Error())}
	}
	if res.ExitCode != 0 {
		return []Health{Unhealthy("docker", res.Output())}
	}
	checks := []Health{{Name: "docker", Ready: true, Detail: res.Output()}}

	for _, spec := range plan {
		res, err := exec.RunTolerant(ctx, fmt.Sprintf("%s image inspect --format '{{.Id}}' %s", quoted, worker.Quote(spec.Image)))
		switch {
		case err != nil:
			checks = append(checks, Unhealthy(spec.Name.Label(), err.Error()))
		case res.ExitCode != 0:
			checks = append(checks, Health{Name: spec.Name.Label(), Ready: true, Detail: spec.Image + " not pulled"})
		default:
			checks = append(checks, Health{Name: spec.Name.Label(), Ready: true, Detail: spec.Image})
		}
	}
	return checks
}
