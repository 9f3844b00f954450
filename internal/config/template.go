package config

// DotEnvTemplate 返回一个列出全部变量的 .env 模板：
// - 必填路径留空，需由运行方填写；
// - 可选项以注释给出默认值；
// - 组件默认使用 fixture 读取器、exec 推理与 fs 写出。
func DotEnvTemplate() string {
	return `# prefire-msk run configuration
# Values already present in the process environment take precedence over this file.

# --- required ---
ANCILLARY_DATA_DIR=
L1B_RAD_FILE=
AUX_MET_FILE=
OUTPUT_DIR=

# --- product ---
# atrack:<start>:<stop|END>, stop is inclusive
ATRACK_IDX_RANGE_0BI=atrack:0:END
# Rzz_Pxx; blank means R01_P00
PRODUCT_FULLVER=
# pretrained model overrides; blank keeps the nominal choice
NN_MODEL_MONIKER=
NN_MODEL_SUBV=

# --- sidecars (default under ANCILLARY_DATA_DIR) ---
PREFIRE_MSK_PRDGITV_FILE=
PREFIRE_MSK_VERSION_FILE=
PREFIRE_MSK_PRODUCT_SPEC_FILE=

# --- components ---
PREFIRE_MSK_GRANULE=fixture
PREFIRE_MSK_GRANULE_OPTIONS_JSON={}
PREFIRE_MSK_INFERENCE=exec
PREFIRE_MSK_INFERENCE_OPTIONS_JSON={"command":[],"env":[],"timeout_seconds":0,"keep_work_dir":false}
PREFIRE_MSK_WRITER=fs
PREFIRE_MSK_WRITER_OPTIONS_JSON={"perm_file":0,"perm_dir":0,"buf_size":65536}

# --- diagnostics ---
PREFIRE_MSK_LOG_LEVEL=info
PREFIRE_MSK_LOG_DIR=logs
PREFIRE_MSK_OTEL_ENDPOINT=
`
}
