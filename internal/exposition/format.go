// Package exposition renders snapshots in the Prometheus text format,
// version 0.0.4.
package exposition

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// ContentType is the media type of Format's output.
const ContentType = "text/plain; version=0.0.4"

// Format serializes one cycle. Sections are always ordered host,
// processes, accelerators, and the samples of a family are contiguous,
// so equal input gives byte-identical output.
func Format(host model.HostSnapshot, score float64, procs []model.ProcessSample, accels []model.AcceleratorSnapshot) []byte {
	var w writer
	w.buf.Grow(4096 + 256*len(procs))

	w.family("cpu_load_1m", "1-minute system load average.", "gauge")
	w.float("cpu_load_1m", "", host.Load1)
	w.family("cpu_utilization_ratio", "CPU busy ratio since the previous refresh (0-1).", "gauge")
	w.float("cpu_utilization_ratio", "", host.CPUUtilization)
	w.family("cpu_pressure_avg10", "CPU pressure stall, 10s average percent.", "gauge")
	w.float("cpu_pressure_avg10", "", host.CPUPressureAvg10)
	w.family("memory_pressure_avg10", "Memory pressure stall, 10s average percent.", "gauge")
	w.float("memory_pressure_avg10", "", host.MemoryPressureAvg10)
	w.family("node_memory_total_bytes", "System memory total in bytes.", "gauge")
	w.uint("node_memory_total_bytes", "", host.MemTotalBytes)
	w.family("node_memory_available_bytes", "System memory available in bytes.", "gauge")
	w.uint("node_memory_available_bytes", "", host.MemAvailableBytes)
	w.family("node_health_score", "Overall node health score (0-10).", "gauge")
	w.float("node_health_score", "", score)

	if len(procs) > 0 {
		labels := make([]string, len(procs))
		for i, p := range procs {
			labels[i] = `pid="` + strconv.Itoa(p.PID) + `",name="` + EscapeLabelValue(p.Name) + `"`
		}
		w.family("cpu_process_cpu_seconds_total", "Process CPU time in seconds.", "counter")
		for i, p := range procs {
			w.float("cpu_process_cpu_seconds_total", labels[i], p.CPUTimeSeconds)
		}
		w.family("cpu_process_rss_bytes", "Process resident memory in bytes.", "gauge")
		for i, p := range procs {
			w.uint("cpu_process_rss_bytes", labels[i], p.RSSBytes)
		}
	}

	if len(accels) > 0 {
		writeAccelerators(&w, accels)
	}
	return w.buf.Bytes()
}

func writeAccelerators(w *writer, accels []model.AcceleratorSnapshot) {
	labels := make([]string, len(accels))
	for i, a := range accels {
		labels[i] = `gpu_index="` + strconv.FormatUint(uint64(a.Index), 10) + `"`
	}

	w.family("gpu_utilization_percent", "GPU utilization percentage.", "gauge")
	for i, a := range accels {
		w.uint("gpu_utilization_percent", labels[i], uint64(a.UtilizationPercent))
	}
	w.family("gpu_memory_used_bytes", "GPU memory used in bytes.", "gauge")
	for i, a := range accels {
		w.uint("gpu_memory_used_bytes", labels[i], a.MemoryUsedBytes)
	}
	w.family("gpu_memory_total_bytes", "GPU memory total in bytes.", "gauge")
	for i, a := range accels {
		w.uint("gpu_memory_total_bytes", labels[i], a.MemoryTotalBytes)
	}
	w.family("gpu_temperature_celsius", "GPU temperature in Celsius.", "gauge")
	for i, a := range accels {
		w.uint("gpu_temperature_celsius", labels[i], uint64(a.TemperatureC))
	}

	powered, withProcs := false, false
	for _, a := range accels {
		powered = powered || a.PowerWatts != nil
		withProcs = withProcs || len(a.Processes) > 0
	}
	if powered {
		w.family("gpu_power_draw_watts", "GPU power draw in watts.", "gauge")
		for i, a := range accels {
			if a.PowerWatts != nil {
				w.float("gpu_power_draw_watts", labels[i], *a.PowerWatts)
			}
		}
	}
	if withProcs {
		w.family("gpu_process_memory_bytes", "GPU memory used per process.", "gauge")
		for i, a := range accels {
			for _, p := range a.Processes {
				w.uint("gpu_process_memory_bytes",
					labels[i]+`,pid="`+strconv.FormatUint(uint64(p.PID), 10)+
						`",container_id="`+EscapeLabelValue(p.ContainerID)+`"`,
					p.UsedMemoryBytes)
			}
		}
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// EscapeLabelValue escapes backslash, double quote and newline.
func EscapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}

// FormatFloat renders v as the shortest plain decimal that parses back
// exactly, without exponent notation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) family(name, help, typ string) {
	w.buf.WriteString("# HELP " + name + " " + help + "\n")
	w.buf.WriteString("# TYPE " + name + " " + typ + "\n")
}

func (w *writer) sample(name, labels, value string) {
	w.buf.WriteString(name)
	if labels != "" {
		w.buf.WriteByte('{')
		w.buf.WriteString(labels)
		w.buf.WriteByte('}')
	}
	w.buf.WriteByte(' ')
	w.buf.WriteString(value)
	w.buf.WriteByte('\n')
}

func (w *writer) float(name, labels string, v float64) { w.sample(name, labels, FormatFloat(v)) }

func (w *writer) uint(name, labels string, v uint64) {
	w.sample(name, labels, strconv.FormatUint(v, 10))
}
