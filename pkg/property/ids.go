package property

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a device or SDK property.
type ID uint32

// ID ranges (convention). The range determines the property Type.
const (
	// IDIntBase is the start of integer properties.
	IDIntBase ID = 0x0000

	// IDFloatBase is the start of float properties.
	IDFloatBase ID = 0x1000

	// IDBoolBase is the start of boolean properties.
	IDBoolBase ID = 0x2000

	// IDStructBase is the start of fixed-layout structure properties.
	IDStructBase ID = 0x3000

	// IDRawBase is the start of variable-length raw data properties.
	IDRawBase ID = 0x4000

	// IDSDKBase is the start of SDK-side properties (bool, never sent to the device).
	IDSDKBase ID = 0x5000

	idRangeSize ID = 0x1000
)

// Integer properties.
const (
	DepthExposureInt ID = IDIntBase + iota + 1
	DepthGainInt
	DepthAutoExposurePriorityInt
	DepthMaxDiffInt
	DepthMaxSpeckleSizeInt
	DepthRotateInt
	IRExposureInt
	IRGainInt
	IRBrightnessInt
	IRAEMaxExposureInt
	IRRotateInt
	IRRightRotateInt
	ColorExposureInt
	ColorGainInt
	ColorBrightnessInt
	ColorContrastInt
	ColorSaturationInt
	ColorSharpnessInt
	ColorGammaInt
	ColorHueInt
	ColorWhiteBalanceInt
	ColorPowerLineFrequencyInt
	ColorBacklightCompensationInt
	ColorAEMaxExposureInt
	ColorRotateInt
	LaserControlInt
	LaserPowerLevelControlInt
	LaserPowerActualLevelInt
	LaserOnOffPatternInt
	LDPMeasureDistanceInt
	TimerResetDelayUsInt
	CaptureImageFrameNumberInt
	FrameInterleaveConfigIndexInt
	FrameInterleaveLaserPatternSyncDelayInt
	DispSearchRangeModeInt
	DispSearchOffsetInt
	DevicePerformanceModeInt
	NetworkBandwidthTypeInt
	IMUStreamPortInt
	AccelODRInt
	AccelFullScaleInt
	GyroODRInt
	GyroFullScaleInt
)

// Float properties.
const (
	DepthUnitFlexibleAdjustmentFloat ID = IDFloatBase + iota + 1
	HWNoiseRemoveFilterThresholdFloat
	OnChipCalibrationHealthCheckFloat
)

// Boolean properties.
const (
	DepthAutoExposureBool ID = IDBoolBase + iota + 1
	DepthMirrorBool
	DepthFlipBool
	DepthSoftFilterBool
	DepthAlignHardwareBool
	DisparityToDepthBool
	IRAutoExposureBool
	IRMirrorBool
	IRFlipBool
	IRRightMirrorBool
	IRRightFlipBool
	ColorAutoExposureBool
	ColorAutoWhiteBalanceBool
	ColorMirrorBool
	ColorFlipBool
	LDPBool
	LDPStatusBool
	LaserAlwaysOnBool
	HeartbeatBool
	TimerResetSignalBool
	TimerResetTriggerOutEnableBool
	SyncSignalTriggerOutBool
	CaptureImageSignalBool
	DeviceResetBool
	DeviceRepowerBool
	TemperatureCompensationBool
	FrameInterleaveEnableBool
	HWNoiseRemoveFilterEnableBool
	OnChipCalibrationEnableBool
	SecondaryDeviceSyncStatusBool
	GPMBool
	AccelSwitchBool
	GyroSwitchBool
	StartDepthStreamBool
	StopDepthStreamBool
	StartColorStreamBool
	StopColorStreamBool
	StartIRStreamBool
	StopIRStreamBool
)

// Structure properties.
const (
	VersionStruct ID = IDStructBase + iota + 1
	DeviceSerialNumberStruct
	ASICSerialNumberStruct
	DeviceTimeStruct
	DeviceTemperatureStruct
	MultiDeviceSyncConfigStruct
	CurrentDepthAlgModeStruct
	DeviceErrorStateStruct
	DepthAEROIStruct
	ColorAEROIStruct
	DepthHDRConfigStruct
	BaselineCalibrationParamStruct
	DispOffsetConfigStruct
	DeviceIPAddrConfigStruct
	DepthStreamProfileStruct
	ColorStreamProfileStruct
	IRStreamProfileStruct
	AccelPresetsODRListStruct
	AccelPresetsFullScaleListStruct
	GyroPresetsODRListStruct
	GyroPresetsFullScaleListStruct
)

// Raw data properties.
const (
	DepthCalibParamRaw ID = IDRawBase + iota + 1
	AlignCalibParamRaw
	IMUCalibParamRaw
	DepthAlgModeListRaw
	D2CAlignSupportProfileListRaw
	StreamProfileListRaw
	DeviceExtensionInformationRaw
)

// SDK-side properties.
const (
	SDKGlobalTimestampEnableBool ID = IDSDKBase + iota + 1
	SDKDepthFrameUnpackBool
	SDKDisparityToDepthBool
	SDKAccelFrameTransformedBool
	SDKGyroFrameTransformedBool
)

var idNames = map[ID]string{
	DepthExposureInt:                        "DEPTH_EXPOSURE_INT",
	DepthGainInt:                            "DEPTH_GAIN_INT",
	DepthAutoExposurePriorityInt:            "DEPTH_AUTO_EXPOSURE_PRIORITY_INT",
	DepthMaxDiffInt:                         "DEPTH_MAX_DIFF_INT",
	DepthMaxSpeckleSizeInt:                  "DEPTH_MAX_SPECKLE_SIZE_INT",
	DepthRotateInt:                          "DEPTH_ROTATE_INT",
	IRExposureInt:                           "IR_EXPOSURE_INT",
	IRGainInt:                               "IR_GAIN_INT",
	IRBrightnessInt:                         "IR_BRIGHTNESS_INT",
	IRAEMaxExposureInt:                      "IR_AE_MAX_EXPOSURE_INT",
	IRRotateInt:                             "IR_ROTATE_INT",
	IRRightRotateInt:                        "IR_RIGHT_ROTATE_INT",
	ColorExposureInt:                        "COLOR_EXPOSURE_INT",
	ColorGainInt:                            "COLOR_GAIN_INT",
	ColorBrightnessInt:                      "COLOR_BRIGHTNESS_INT",
	ColorContrastInt:                        "COLOR_CONTRAST_INT",
	ColorSaturationInt:                      "COLOR_SATURATION_INT",
	ColorSharpnessInt:                       "COLOR_SHARPNESS_INT",
	ColorGammaInt:                           "COLOR_GAMMA_INT",
	ColorHueInt:                             "COLOR_HUE_INT",
	ColorWhiteBalanceInt:                    "COLOR_WHITE_BALANCE_INT",
	ColorPowerLineFrequencyInt:              "COLOR_POWER_LINE_FREQUENCY_INT",
	ColorBacklightCompensationInt:           "COLOR_BACKLIGHT_COMPENSATION_INT",
	ColorAEMaxExposureInt:                   "COLOR_AE_MAX_EXPOSURE_INT",
	ColorRotateInt:                          "COLOR_ROTATE_INT",
	LaserControlInt:                         "LASER_CONTROL_INT",
	LaserPowerLevelControlInt:               "LASER_POWER_LEVEL_CONTROL_INT",
	LaserPowerActualLevelInt:                "LASER_POWER_ACTUAL_LEVEL_INT",
	LaserOnOffPatternInt:                    "LASER_ON_OFF_PATTERN_INT",
	LDPMeasureDistanceInt:                   "LDP_MEASURE_DISTANCE_INT",
	TimerResetDelayUsInt:                    "TIMER_RESET_DELAY_US_INT",
	CaptureImageFrameNumberInt:              "CAPTURE_IMAGE_FRAME_NUMBER_INT",
	FrameInterleaveConfigIndexInt:           "FRAME_INTERLEAVE_CONFIG_INDEX_INT",
	FrameInterleaveLaserPatternSyncDelayInt: "FRAME_INTERLEAVE_LASER_PATTERN_SYNC_DELAY_INT",
	DispSearchRangeModeInt:                  "DISP_SEARCH_RANGE_MODE_INT",
	DispSearchOffsetInt:                     "DISP_SEARCH_OFFSET_INT",
	DevicePerformanceModeInt:                "DEVICE_PERFORMANCE_MODE_INT",
	NetworkBandwidthTypeInt:                 "NETWORK_BANDWIDTH_TYPE_INT",
	IMUStreamPortInt:                        "IMU_STREAM_PORT_INT",
	AccelODRInt:                             "ACCEL_ODR_INT",
	AccelFullScaleInt:                       "ACCEL_FULL_SCALE_INT",
	GyroODRInt:                              "GYRO_ODR_INT",
	GyroFullScaleInt:                        "GYRO_FULL_SCALE_INT",

	DepthUnitFlexibleAdjustmentFloat:  "DEPTH_UNIT_FLEXIBLE_ADJUSTMENT_FLOAT",
	HWNoiseRemoveFilterThresholdFloat: "HW_NOISE_REMOVE_FILTER_THRESHOLD_FLOAT",
	OnChipCalibrationHealthCheckFloat: "ON_CHIP_CALIBRATION_HEALTH_CHECK_FLOAT",

	DepthAutoExposureBool:          "DEPTH_AUTO_EXPOSURE_BOOL",
	DepthMirrorBool:                "DEPTH_MIRROR_BOOL",
	DepthFlipBool:                  "DEPTH_FLIP_BOOL",
	DepthSoftFilterBool:            "DEPTH_SOFT_FILTER_BOOL",
	DepthAlignHardwareBool:         "DEPTH_ALIGN_HARDWARE_BOOL",
	DisparityToDepthBool:           "DISPARITY_TO_DEPTH_BOOL",
	IRAutoExposureBool:             "IR_AUTO_EXPOSURE_BOOL",
	IRMirrorBool:                   "IR_MIRROR_BOOL",
	IRFlipBool:                     "IR_FLIP_BOOL",
	IRRightMirrorBool:              "IR_RIGHT_MIRROR_BOOL",
	IRRightFlipBool:                "IR_RIGHT_FLIP_BOOL",
	ColorAutoExposureBool:          "COLOR_AUTO_EXPOSURE_BOOL",
	ColorAutoWhiteBalanceBool:      "COLOR_AUTO_WHITE_BALANCE_BOOL",
	ColorMirrorBool:                "COLOR_MIRROR_BOOL",
	ColorFlipBool:                  "COLOR_FLIP_BOOL",
	LDPBool:                        "LDP_BOOL",
	LDPStatusBool:                  "LDP_STATUS_BOOL",
	LaserAlwaysOnBool:              "LASER_ALWAYS_ON_BOOL",
	HeartbeatBool:                  "HEARTBEAT_BOOL",
	TimerResetSignalBool:           "TIMER_RESET_SIGNAL_BOOL",
	TimerResetTriggerOutEnableBool: "TIMER_RESET_TRIGGER_OUT_ENABLE_BOOL",
	SyncSignalTriggerOutBool:       "SYNC_SIGNAL_TRIGGER_OUT_BOOL",
	CaptureImageSignalBool:         "CAPTURE_IMAGE_SIGNAL_BOOL",
	DeviceResetBool:                "DEVICE_RESET_BOOL",
	DeviceRepowerBool:              "DEVICE_REPOWER_BOOL",
	TemperatureCompensationBool:    "TEMPERATURE_COMPENSATION_BOOL",
	FrameInterleaveEnableBool:      "FRAME_INTERLEAVE_ENABLE_BOOL",
	HWNoiseRemoveFilterEnableBool:  "HW_NOISE_REMOVE_FILTER_ENABLE_BOOL",
	OnChipCalibrationEnableBool:    "ON_CHIP_CALIBRATION_ENABLE_BOOL",
	SecondaryDeviceSyncStatusBool:  "SECONDARY_DEVICE_SYNC_STATUS_BOOL",
	GPMBool:                        "GPM_BOOL",
	AccelSwitchBool:                "ACCEL_SWITCH_BOOL",
	GyroSwitchBool:                 "GYRO_SWITCH_BOOL",
	StartDepthStreamBool:           "START_DEPTH_STREAM_BOOL",
	StopDepthStreamBool:            "STOP_DEPTH_STREAM_BOOL",
	StartColorStreamBool:           "START_COLOR_STREAM_BOOL",
	StopColorStreamBool:            "STOP_COLOR_STREAM_BOOL",
	StartIRStreamBool:              "START_IR_STREAM_BOOL",
	StopIRStreamBool:               "STOP_IR_STREAM_BOOL",

	VersionStruct:                   "VERSION",
	DeviceSerialNumberStruct:        "DEVICE_SERIAL_NUMBER",
	ASICSerialNumberStruct:          "ASIC_SERIAL_NUMBER",
	DeviceTimeStruct:                "DEVICE_TIME",
	DeviceTemperatureStruct:         "DEVICE_TEMPERATURE",
	MultiDeviceSyncConfigStruct:     "MULTI_DEVICE_SYNC_CONFIG",
	CurrentDepthAlgModeStruct:       "CURRENT_DEPTH_ALG_MODE",
	DeviceErrorStateStruct:          "DEVICE_ERROR_STATE",
	DepthAEROIStruct:                "DEPTH_AE_ROI",
	ColorAEROIStruct:                "COLOR_AE_ROI",
	DepthHDRConfigStruct:            "DEPTH_HDR_CONFIG",
	BaselineCalibrationParamStruct:  "BASELINE_CALIBRATION_PARAM",
	DispOffsetConfigStruct:          "DISP_OFFSET_CONFIG",
	DeviceIPAddrConfigStruct:        "DEVICE_IP_ADDR_CONFIG",
	DepthStreamProfileStruct:        "DEPTH_STREAM_PROFILE",
	ColorStreamProfileStruct:        "COLOR_STREAM_PROFILE",
	IRStreamProfileStruct:           "IR_STREAM_PROFILE",
	AccelPresetsODRListStruct:       "GET_ACCEL_PRESETS_ODR_LIST",
	AccelPresetsFullScaleListStruct: "GET_ACCEL_PRESETS_FULL_SCALE_LIST",
	GyroPresetsODRListStruct:        "GET_GYRO_PRESETS_ODR_LIST",
	GyroPresetsFullScaleListStruct:  "GET_GYRO_PRESETS_FULL_SCALE_LIST",

	DepthCalibParamRaw:            "DEPTH_CALIB_PARAM",
	AlignCalibParamRaw:            "ALIGN_CALIB_PARAM",
	IMUCalibParamRaw:              "IMU_CALIB_PARAM",
	DepthAlgModeListRaw:           "DEPTH_ALG_MODE_LIST",
	D2CAlignSupportProfileListRaw: "D2C_ALIGN_SUPPORT_PROFILE_LIST",
	StreamProfileListRaw:          "STREAM_PROFILE_LIST",
	DeviceExtensionInformationRaw: "DEVICE_EXTENSION_INFORMATION",

	SDKGlobalTimestampEnableBool: "SDK_GLOBAL_TIMESTAMP_ENABLE_BOOL",
	SDKDepthFrameUnpackBool:      "SDK_DEPTH_FRAME_UNPACK_BOOL",
	SDKDisparityToDepthBool:      "SDK_DISPARITY_TO_DEPTH_BOOL",
	SDKAccelFrameTransformedBool: "SDK_ACCEL_FRAME_TRANSFORMED_BOOL",
	SDKGyroFrameTransformedBool:  "SDK_GYRO_FRAME_TRANSFORMED_BOOL",
}

var namesToID = func() map[string]ID {
	m := make(map[string]ID, len(idNames)*2)
	for id, name := range idNames {
		m[name] = id
		if short, ok := trimTypeSuffix(name); ok {
			m[short] = id
		}
	}
	return m
}()

func trimTypeSuffix(name string) (string, bool) {
	for _, suffix := range []string{"_INT", "_FLOAT", "_BOOL"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return name, false
}

// String returns the property name, or a hex form for unknown ids.
func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return fmt.Sprintf("PROPERTY_0x%04X", uint32(id))
}

// Type returns the value type implied by the id range.
func (id ID) Type() Type {
	switch id / idRangeSize {
	case IDIntBase / idRangeSize:
		return TypeInt
	case IDFloatBase / idRangeSize:
		return TypeFloat
	case IDBoolBase / idRangeSize, IDSDKBase / idRangeSize:
		return TypeBool
	case IDStructBase / idRangeSize:
		return TypeStruct
	case IDRawBase / idRangeSize:
		return TypeRaw
	default:
		return TypeUnknown
	}
}

// IsSDK reports whether id is an SDK-side property.
func (id ID) IsSDK() bool {
	return id/idRangeSize == IDSDKBase/idRangeSize
}

// ParseID parses a property name. The type suffix (_INT, _FLOAT, _BOOL) is
// optional, matching is case-insensitive, and numeric ids (decimal or 0x
// hex) are accepted.
func ParseID(s string) (ID, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if id, ok := namesToID[name]; ok {
		return id, nil
	}
	if n, err := strconv.ParseUint(name, 0, 32); err == nil {
		return ID(n), nil
	}
	if strings.HasPrefix(name, "PROPERTY_0X") {
		if n, err := strconv.ParseUint(strings.TrimPrefix(name, "PROPERTY_"), 0, 32); err == nil {
			return ID(n), nil
		}
	}
	return 0, fmt.Errorf("unknown property %q", s)
}

// KnownIDs returns every named property id.
func KnownIDs() []ID {
	ids := make([]ID, 0, len(idNames))
	for id := range idNames {
		ids = append(ids, id)
	}
	return ids
}
