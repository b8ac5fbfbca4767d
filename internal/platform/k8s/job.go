package k8s

import "time"

// The types below mirror the subset of batch/v1 that trial jobs use.

type ObjectMeta struct {
	Name              string            `json:"name,omitempty"`
	Namespace         string            `json:"namespace,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Annotations       map[string]string `json:"annotations,omitempty"`
	CreationTimestamp *time.Time        `json:"creationTimestamp,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ResourceRequirements struct {
	Limits   map[string]string `json:"limits,omitempty"`
	Requests map[string]string `json:"requests,omitempty"`
}

type Container struct {
	Name       string               `json:"name"`
	Image      string               `json:"image"`
	Command    []string             `json:"command,omitempty"`
	Args       []string             `json:"args,omitempty"`
	WorkingDir string               `json:"workingDir,omitempty"`
	Env        []EnvVar             `json:"env,omitempty"`
	Resources  ResourceRequirements `json:"resources,omitempty"`
}

type PodSpec struct {
	RestartPolicy      string      `json:"restartPolicy,omitempty"`
	ServiceAccountName string      `json:"serviceAccountName,omitempty"`
	Containers         []Container `json:"containers"`
}

type PodTemplateSpec struct {
	Metadata ObjectMeta `json:"metadata,omitempty"`
	Spec     PodSpec    `json:"spec"`
}

// JobSpec: completions and parallelism together express multi-node trials.
type JobSpec struct {
	BackoffLimit            *int32          `json:"backoffLimit,omitempty"`
	Completions             *int32          `json:"completions,omitempty"`
	Parallelism             *int32          `json:"parallelism,omitempty"`
	ActiveDeadlineSeconds   *int64          `json:"activeDeadlineSeconds,omitempty"`
	TTLSecondsAfterFinished *int32          `json:"ttlSecondsAfterFinished,omitempty"`
	Template                PodTemplateSpec `json:"template"`
}

type JobCondition struct {
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

type JobStatus struct {
	StartTime      *time.Time     `json:"startTime,omitempty"`
	CompletionTime *time.Time     `json:"completionTime,omitempty"`
	Active         int32          `json:"active,omitempty"`
	Succeeded      int32          `json:"succeeded,omitempty"`
	Failed         int32          `json:"failed,omitempty"`
	Conditions     []JobCondition `json:"conditions,omitempty"`
}

type Job struct {
	APIVersion string     `json:"apiVersion,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       JobSpec    `json:"spec"`
	Status     JobStatus  `json:"status,omitempty"`
}

type JobList struct {
	Items []Job `json:"items"`
}

// Phase condenses a job status into one of "pending", "running",
// "complete" or "failed". detail carries the condition message or reason.
func (s JobStatus) Phase() (phase, detail string) {
	for _, want := range []string{"Failed", "Complete"} {
		for _, cond := range s.Conditions {
			if cond.Type != want || cond.Status != "True" {
				continue
			}
			detail = cond.Message
			if detail == "" {
				detail = cond.Reason
			}
			if want == "Failed" {
				return "failed", detail
			}
			return "complete", detail
		}
	}
	if s.Active > 0 {
		return "running", ""
	}
	return "pending", ""
}
