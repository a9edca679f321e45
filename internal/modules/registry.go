package modules

import (
	"deskgate/internal/audit"
	"deskgate/internal/model"
	"deskgate/internal/pipeline"
	"deskgate/internal/queue"
	"deskgate/internal/safety"
	"deskgate/internal/verify"
)

// Deps carries the shared collaborators every built-in module closes over.
// Nil Sensor/Effector fall back to the file/exec defaults configured per
// instance.
type Deps struct {
	Gate         *safety.Gate
	Queue        *queue.Store
	QueueOpts    queue.Options
	Effector     model.Effector
	Sensor       model.Sensor
	Audit        *audit.Log
	VerifyPolicy verify.Policy
}

// DefaultRegistry registers the four built-in module types. Deployments
// with richer sensing or deciding register additional types on the result
// before building the pipeline.
func DefaultRegistry(deps Deps) *pipeline.Registry {
	r := pipeline.NewRegistry()
	// Register only errors on duplicates; these four names are distinct.
	_ = r.Register("sensor", pipeline.RoleSensor, func(instance string) pipeline.Module {
		return NewSensorModule(instance, deps.Sensor)
	})
	_ = r.Register("decision", pipeline.RoleDecision, func(instance string) pipeline.Module {
		return NewDecisionModule(instance)
	})
	_ = r.Register("effector", pipeline.RoleEffector, func(instance string) pipeline.Module {
		return NewEffectorModule(instance, deps.Gate, deps.Queue, deps.QueueOpts, deps.Effector, deps.Audit)
	})
	_ = r.Register("verifier", pipeline.RoleVerifier, func(instance string) pipeline.Module {
		return NewVerifierModule(instance, deps.Sensor, deps.VerifyPolicy, deps.Audit)
	})
	return r
}
